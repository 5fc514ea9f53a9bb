// Package channel models the radio link between encoder and decoder.
package channel

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrLength = errors.New("channel: soft buffer shorter than coded bits")

// AWGN maps coded bits to antipodal symbols, adds white Gaussian noise and
// returns scaled fixed-point LLRs. Each bit is treated as one real channel
// use at the configured SNR, so the result does not depend on Qm.
// An AWGN is not safe for concurrent use.
type AWGN struct {
	snrDB float64
	sigma float64
	gain  float64
	noise distuv.Normal
}

// NewAWGN creates a channel at snrDB. llrScale is the fixed-point units per
// natural LLR unit. Equal seeds give equal noise.
func NewAWGN(snrDB, llrScale float64, seed uint64) *AWGN {
	snr := math.Pow(10, snrDB/10)
	variance := 1 / (2 * snr)
	sigma := math.Sqrt(variance)
	return &AWGN{
		snrDB: snrDB,
		sigma: sigma,
		gain:  llrScale * 2 / variance,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: sigma,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
}

// SNR returns the configured SNR in dB.
func (c *AWGN) SNR() float64 { return c.snrDB }

// Sigma returns the noise standard deviation per real dimension.
func (c *AWGN) Sigma() float64 { return c.sigma }

// Transmit writes one LLR per bit into llr, positive for 0.
func (c *AWGN) Transmit(bits []uint8, llr []fixedpoint.LLR) error {
	if len(llr) < len(bits) {
		return ErrLength
	}
	for i, b := range bits {
		x := 1.0
		if b&1 == 1 {
			x = -1
		}
		y := x + c.noise.Rand()
		llr[i] = fixedpoint.SaturatingCast[fixedpoint.LLR](math.Round(c.gain * y))
	}
	return nil
}

// Noiseless writes LLRs of fixed magnitude mag, as an infinite SNR link.
func Noiseless(bits []uint8, llr []fixedpoint.LLR, mag fixedpoint.LLR) error {
	if len(llr) < len(bits) {
		return ErrLength
	}
	for i, b := range bits {
		if b&1 == 1 {
			llr[i] = -mag
		} else {
			llr[i] = mag
		}
	}
	return nil
}
