package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/protrack"
)

// EntryKind tells how a requested IMEI was accounted for
type EntryKind int

const (
	// EntryReported is an IMEI the upstream returned a record for
	EntryReported EntryKind = iota
	// EntryBatchFailed is an IMEI whose batch request failed
	EntryBatchFailed
	// EntryMissing is an IMEI no successful batch reported
	EntryMissing
)

func (k EntryKind) String() string {
	switch k {
	case EntryReported:
		return "reported"
	case EntryBatchFailed:
		return "batch_failed"
	case EntryMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Entry is one requested IMEI after reconciliation
type Entry struct {
	Kind   EntryKind
	IMEI   string
	Device protrack.Device
	Detail string
}

// Reconciliation is the reconciled output of a fetch, one entry per
// distinct requested IMEI in request order
type Reconciliation struct {
	Entries     []Entry
	Reported    int
	BatchFailed int
	Missing     int
	Skipped     int
}

// Reconcile matches the fetched records against the requested IMEIs.
// Records with an empty or unrequested IMEI are skipped, the first record of
// a duplicated IMEI wins, IMEIs of failed batches carry the batch failure,
// and every other unreported IMEI is marked missing.
func Reconcile(requested []string, result FetchResult, logger *zap.Logger) Reconciliation {
	order := make([]string, 0, len(requested))
	wanted := make(map[string]struct{}, len(requested))
	for _, imei := range requested {
		imei = strings.TrimSpace(imei)
		if imei == "" {
			continue
		}
		if _, dup := wanted[imei]; dup {
			continue
		}
		wanted[imei] = struct{}{}
		order = append(order, imei)
	}

	var rec Reconciliation
	reported := make(map[string]protrack.Device, len(order))
	for _, payload := range result.Payloads {
		for _, device := range payload.Records {
			imei := strings.TrimSpace(device.IMEI.String())
			if imei == "" {
				rec.Skipped++
				logger.Warn("skipping record without imei", zap.Int("batch_index", payload.Index))
				continue
			}
			if _, ok := wanted[imei]; !ok {
				rec.Skipped++
				logger.Warn("skipping record for unrequested imei",
					zap.String("imei", imei),
					zap.Int("batch_index", payload.Index),
				)
				continue
			}
			if _, seen := reported[imei]; seen {
				logger.Debug("ignoring duplicate record", zap.String("imei", imei))
				continue
			}
			reported[imei] = device
		}
	}

	failedDetail := make(map[string]string)
	for _, batch := range result.Failed {
		detail := batch.Detail()
		for _, imei := range batch.IMEIs {
			imei = strings.TrimSpace(imei)
			if _, ok := failedDetail[imei]; !ok {
				failedDetail[imei] = detail
			}
		}
	}

	rec.Entries = make([]Entry, 0, len(order))
	for _, imei := range order {
		if device, ok := reported[imei]; ok {
			rec.Entries = append(rec.Entries, Entry{Kind: EntryReported, IMEI: imei, Device: device})
			rec.Reported++
			continue
		}
		if detail, ok := failedDetail[imei]; ok {
			rec.Entries = append(rec.Entries, Entry{Kind: EntryBatchFailed, IMEI: imei, Detail: detail})
			rec.BatchFailed++
			continue
		}
		rec.Entries = append(rec.Entries, Entry{Kind: EntryMissing, IMEI: imei})
		rec.Missing++
	}

	return rec
}
