package sim

import (
	"fmt"

	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/segment"
)

// Replay decodes a captured attempt on a fresh process with maxIterations.
// Soft values of earlier rounds are not part of a capture, so a
// retransmission is decoded on its own.
func Replay(rec *capture.Record, codec ldpc.Decoder, maxIterations int, log *logger.Logger) (harq.Indication, error) {
	if rec.PID < 0 {
		return harq.Indication{}, fmt.Errorf("sim: replay pid %d", rec.PID)
	}
	capacity := segment.Capacity(max(rec.Descriptor.RBs, 1), max(rec.Descriptor.Layers, 1))
	rx := harq.NewEntity(rec.RNTI, harq.Receive, rec.PID+1, capacity)
	defer rx.Close()

	var ind harq.Indication
	sink := harq.SinkFunc(func(i harq.Indication) { ind = i })
	dec := sch.NewDecoder(sch.Config{MaxIterations: maxIterations, Offload: true}, codec, rx, sink, log)
	defer dec.Close()

	if err := dec.Decode(rec.PID, rec.LLR, rec.Descriptor, rec.Frame, rec.Slot, rec.G); err != nil {
		return harq.Indication{}, err
	}
	return ind, nil
}
