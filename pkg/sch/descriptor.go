// Package sch is the shared channel transport block codec: CRC attachment,
// segmentation, LDPC coding, rate matching and interleaving on transmit and
// the inverse on receive, driven by HARQ process state.
package sch

import (
	"errors"
	"fmt"

	"github.com/dbehnke/nr-codec/pkg/crc"
	"github.com/dbehnke/nr-codec/pkg/interleave"
	"github.com/dbehnke/nr-codec/pkg/segment"
)

var (
	ErrNilBuffer   = errors.New("sch: nil buffer")
	ErrShortBuffer = errors.New("sch: buffer too short")
	ErrDescriptor  = errors.New("sch: invalid descriptor")
)

// Descriptor carries the scheduling parameters of one transport block.
type Descriptor struct {
	// TBSize is the transport block size in bytes.
	TBSize int `json:"tb_size"`
	RBs    int `json:"rbs"`
	Qm     int `json:"qm"`
	Layers int `json:"layers"`
	// TargetRate is the code rate multiplied by 1024.
	TargetRate int `json:"target_rate"`
	RV         int `json:"rv"`
	NDI        int `json:"ndi"`
	// LBRMBytes bounds the circular buffer; 0 disables the limit.
	LBRMBytes int `json:"lbrm_bytes"`
}

// Rate returns the target code rate.
func (d Descriptor) Rate() float64 {
	return float64(d.TargetRate) / 1024
}

func (d Descriptor) validate() error {
	switch {
	case d.TBSize <= 0:
		return fmt.Errorf("%w: tb size %d", ErrDescriptor, d.TBSize)
	case !validQm(d.Qm):
		return fmt.Errorf("%w: qm %d", ErrDescriptor, d.Qm)
	case d.Layers < 1 || d.Layers > 4:
		return fmt.Errorf("%w: layers %d", ErrDescriptor, d.Layers)
	case d.TargetRate <= 0 || d.TargetRate >= 1024:
		return fmt.Errorf("%w: target rate %d", ErrDescriptor, d.TargetRate)
	case d.RV < 0 || d.RV > 3:
		return fmt.Errorf("%w: rv %d", ErrDescriptor, d.RV)
	case d.LBRMBytes < 0:
		return fmt.Errorf("%w: lbrm %d", ErrDescriptor, d.LBRMBytes)
	}
	return nil
}

func validQm(qm int) bool {
	for _, m := range interleave.ModulationOrders {
		if m == qm {
			return true
		}
	}
	return false
}

// plan returns the transport block CRC and segmentation for d.
func (d Descriptor) plan() (crc.Type, segment.Params, error) {
	a := d.TBSize * 8
	tbCRC := crc.ForTransportBlock(a)
	bg := segment.SelectBaseGraph(a, d.Rate())
	seg, err := segment.Compute(a+tbCRC.Bits(), bg)
	return tbCRC, seg, err
}
