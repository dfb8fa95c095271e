package stockdata

import "stock-ingest/pkg/marketdata"

// Chunk splits records into contiguous slices of at most size elements,
// preserving order. The slices share the input's backing array.
func Chunk(records []marketdata.StockRecord, size int) [][]marketdata.StockRecord {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(records)
	}
	batches := make([][]marketdata.StockRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end:end])
	}
	return batches
}

// collapseDuplicates keeps the last record for each (symbol, date) key in the
// position of its first appearance. A single upsert statement cannot touch the
// same row twice, so later values win before the statement is built.
func collapseDuplicates(batch []marketdata.StockRecord) []marketdata.StockRecord {
	index := make(map[string]int, len(batch))
	out := make([]marketdata.StockRecord, 0, len(batch))
	for _, rec := range batch {
		key := rec.Key()
		if i, ok := index[key]; ok {
			out[i] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}
