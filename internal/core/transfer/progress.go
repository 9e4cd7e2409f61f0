package transfer

import "sync/atomic"

// Progress is reported after every chunk. Transferred is cumulative and,
// for resumed downloads, counts from the start of the file.
type Progress struct {
	Transferred int64
	Total       int64 // -1 when unknown
}

// Fraction is in [0,1], or -1 when the total is unknown.
func (p Progress) Fraction() float64 {
	switch {
	case p.Total < 0:
		return -1
	case p.Total == 0:
		return 1
	}
	return float64(p.Transferred) / float64(p.Total)
}

// ProgressFunc observes a transfer. It runs on the goroutine performing
// the transfer, so a slow observer slows the transfer down.
type ProgressFunc func(Progress)

// CancelToken asks running transfers to stop at their next chunk
// boundary. A nil token is never cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken { return &CancelToken{} }

func (t *CancelToken) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
