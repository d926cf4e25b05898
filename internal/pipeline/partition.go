// Package pipeline holds the stages of an ingestion run between the IMEI
// list and the upsert loader: partitioning, concurrent fetching,
// reconciliation against the requested set, and normalization.
package pipeline

// DefaultBatchSize is the number of IMEIs sent in one track request
const DefaultBatchSize = 100

// Partition splits ids into contiguous chunks of at most size elements,
// preserving order. A non-positive size falls back to DefaultBatchSize.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(ids) == 0 {
		return nil
	}

	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
