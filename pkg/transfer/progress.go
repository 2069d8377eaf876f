package transfer

// Progress is a snapshot of a running download.
type Progress struct {
	Written int64
	// Total is the announced Content-Length, or -1 when unknown.
	Total int64
}

// Percent returns the completion in percent. ok is false when the total size
// is unknown.
func (p Progress) Percent() (pct float64, ok bool) {
	if p.Total <= 0 {
		return 0, false
	}
	pct = float64(p.Written) * 100 / float64(p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// ProgressFunc is called after every chunk written to disk.
type ProgressFunc func(Progress)
