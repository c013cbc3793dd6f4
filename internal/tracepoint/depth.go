package tracepoint

// DepthTracker counts active user-level call frames above the entry frame.
// It is updated inline by the host's call observer, once per call and once
// per return.
type DepthTracker struct {
	depth      int
	underflows int
}

// Enter records entry into a user-level call frame.
func (d *DepthTracker) Enter() {
	d.depth++
}

// Return records a return from a user-level call frame. A return at depth
// zero is counted as an underflow and leaves the depth at zero.
func (d *DepthTracker) Return() {
	if d.depth == 0 {
		d.underflows++
		return
	}
	d.depth--
}

// Depth is the current call depth.
func (d *DepthTracker) Depth() int {
	if d == nil {
		return 0
	}
	return d.depth
}

// Underflows is the number of unmatched returns seen.
func (d *DepthTracker) Underflows() int {
	return d.underflows
}

// Reset returns the tracker to depth zero at session teardown.
func (d *DepthTracker) Reset() {
	d.depth = 0
	d.underflows = 0
}
