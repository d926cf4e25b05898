package protrack

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

// Device is one device entry of a track response. Every field keeps its raw
// upstream form; normalization happens later in the pipeline.
type Device struct {
	IMEI       tracking.RawValue `json:"imei"`
	Latitude   tracking.RawValue `json:"latitude"`
	Longitude  tracking.RawValue `json:"longitude"`
	DataStatus tracking.RawValue `json:"datastatus"`
	HeartTime  tracking.RawValue `json:"hearttime"`
}

// Records is the "record" field of a track response. The API sends a list,
// or a bare object when a single device is reported.
type Records []Device

// UnmarshalJSON implements json.Unmarshaler
func (r *Records) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}

	switch data[0] {
	case '[':
		var list []Device
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("failed to decode record list: %w", err)
		}
		*r = list
	case '{':
		var single Device
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		*r = Records{single}
	default:
		return fmt.Errorf("unexpected record value %s", string(data))
	}
	return nil
}

// TrackResponse is the body of GET /track
type TrackResponse struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Record  Records `json:"record"`
}

type authResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Record  *struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	} `json:"record"`
}
