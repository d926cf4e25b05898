package protrack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/config"
)

func TestSignature(t *testing.T) {
	got := Signature("secret", 1700000000)
	if got != "9daa2f47bfef02e5ea27ddbe47714ca8" {
		t.Errorf("Unexpected signature %s", got)
	}
	if md5Hex("secret") != "5ebe2294ecd0e0f08eab7690d2a6ee69" {
		t.Errorf("Unexpected password hash %s", md5Hex("secret"))
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.ProTrackConfig{
		BaseURL:     server.URL + "/api/",
		Account:     "fleet",
		Password:    "secret",
		AuthTimeout: 5 * time.Second,
	}, NewHTTPClient(10, 5), zap.NewNop())
	client.now = func() time.Time { return time.Unix(1700000000, 0) }

	return client, server
}

func TestAuthorize_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/authorization" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("time") != "1700000000" || q.Get("account") != "fleet" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("signature") != Signature("secret", 1700000000) {
			t.Errorf("Unexpected signature %s", q.Get("signature"))
		}
		w.Write([]byte(`{"code":0,"record":{"access_token":"tok-123","expires_in":7200}}`))
	})

	token, err := client.Authorize(context.Background())
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("Expected tok-123, got %s", token)
	}
}

func TestAuthorize_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"non-zero code", http.StatusOK, `{"code":10001,"message":"bad signature"}`},
		{"missing token", http.StatusOK, `{"code":0,"record":{}}`},
		{"malformed body", http.StatusOK, `not json`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.payload))
			})

			_, err := client.Authorize(context.Background())
			if !errors.Is(err, ErrAuthorization) {
				t.Errorf("Expected ErrAuthorization, got %v", err)
			}
		})
	}
}

func TestAuthorize_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		if _, err := client.Authorize(context.Background()); !errors.Is(err, ErrAuthorization) {
			t.Fatalf("Attempt %d: expected ErrAuthorization, got %v", i, err)
		}
	}

	if got := hits.Load(); got != 3 {
		t.Errorf("Expected breaker to stop calls after 3 failures, server saw %d", got)
	}
}

func TestTrack_ListAndSingle(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    []string
	}{
		{"list", `{"code":0,"record":[{"imei":"111","latitude":"11.5","longitude":"104.9","datastatus":2,"hearttime":1700000000},{"imei":"222"}]}`, []string{"111", "222"}},
		{"single object", `{"code":0,"record":{"imei":"333","datastatus":"4"}}`, []string{"333"}},
		{"null record", `{"code":0,"record":null}`, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/track" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				if r.URL.Query().Get("access_token") != "tok" {
					t.Errorf("Missing access token")
				}
				w.Write([]byte(tc.payload))
			})

			records, err := client.Track(context.Background(), []string{"111", "222", "333"}, "tok")
			if err != nil {
				t.Fatalf("Track failed: %v", err)
			}
			if len(records) != len(tc.want) {
				t.Fatalf("Expected %d records, got %d", len(tc.want), len(records))
			}
			for i, imei := range tc.want {
				if records[i].IMEI.String() != imei {
					t.Errorf("Record %d: expected IMEI %s, got %s", i, imei, records[i].IMEI.String())
				}
			}
		})
	}
}

func TestTrack_QueryCarriesIMEIs(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("imeis"); got != "111,222" {
			t.Errorf("Expected imeis=111,222, got %s", got)
		}
		w.Write([]byte(`{"code":0,"record":[]}`))
	})

	if _, err := client.Track(context.Background(), []string{"111", "222"}, "tok"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
}

func TestTrack_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"bad gateway", http.StatusBadGateway, `upstream down`},
		{"non-zero code", http.StatusOK, `{"code":20001,"message":"token expired"}`},
		{"malformed", http.StatusOK, `{"code":0,"record":"nope"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.payload))
			})

			if _, err := client.Track(context.Background(), []string{"111"}, "tok"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
