package models

import "time"

// FailedSymbol records a symbol that could not be resolved and why.
type FailedSymbol struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// StagingBatch holds resolved CSV candidates awaiting user confirmation.
type StagingBatch struct {
	WatchlistName string         `json:"watchlist_name"`
	Successful    []Instrument   `json:"successful_symbols"`
	Failed        []FailedSymbol `json:"failed_symbols"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the batch.
func (b *StagingBatch) Clone() *StagingBatch {
	out := &StagingBatch{
		WatchlistName: b.WatchlistName,
		Successful:    make([]Instrument, len(b.Successful)),
		Failed:        append([]FailedSymbol{}, b.Failed...),
		CreatedAt:     b.CreatedAt,
	}
	for i, inst := range b.Successful {
		out.Successful[i] = inst.Clone()
	}
	return out
}
