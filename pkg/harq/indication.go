package harq

import "time"

// Indication reports the outcome of one decode attempt to the MAC. Round is
// the round of the attempt being reported; Payload is set on success only.
type Indication struct {
	RNTI              uint16    `json:"rnti"`
	PID               int       `json:"pid"`
	Frame             int       `json:"frame"`
	Slot              int       `json:"slot"`
	OK                bool      `json:"ok"`
	Round             int       `json:"round"`
	TBSize            int       `json:"tb_size"`
	Segments          int       `json:"segments"`
	ProcessedSegments int       `json:"processed_segments"`
	Iterations        int       `json:"iterations"`
	Qm                int       `json:"qm"`
	Layers            int       `json:"layers"`
	Time              time.Time `json:"time"`
	Payload           []byte    `json:"-"`
}

// Sink receives indications. Implementations must not block for long: with
// the worker pool scheduler they run on the aggregating goroutine.
type Sink interface {
	Indicate(Indication)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Indication)

// Indicate calls f.
func (f SinkFunc) Indicate(ind Indication) {
	f(ind)
}

// Fanout delivers each indication to every sink in order.
type Fanout []Sink

// Indicate implements Sink.
func (f Fanout) Indicate(ind Indication) {
	for _, s := range f {
		if s != nil {
			s.Indicate(ind)
		}
	}
}
