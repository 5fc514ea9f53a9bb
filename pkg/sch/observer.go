package sch

// Observer receives per-segment and per-block events for instrumentation.
type Observer interface {
	SegmentDecoded(r Result)
	BlockEncoded(bytes, segments int, newData bool)
}

type nopObserver struct{}

func (nopObserver) SegmentDecoded(Result)       {}
func (nopObserver) BlockEncoded(int, int, bool) {}
