// Package capture stores the soft input of decode attempts as zstd
// compressed files so failed blocks can be replayed offline.
package capture

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/klauspost/compress/zstd"
)

// Extension is the file suffix of capture files.
const Extension = ".llr.zst"

var magic = [6]byte{'N', 'R', 'L', 'L', 'R', '1'}

var ErrFormat = errors.New("capture: not a capture file")

// Record is one decode attempt: where it came from, how it was scheduled
// and the G soft values handed to the decoder.
type Record struct {
	RNTI       uint16           `json:"rnti"`
	PID        int              `json:"pid"`
	Frame      int              `json:"frame"`
	Slot       int              `json:"slot"`
	Round      int              `json:"round"`
	G          int              `json:"g"`
	OK         bool             `json:"ok"`
	Descriptor sch.Descriptor   `json:"descriptor"`
	LLR        []fixedpoint.LLR `json:"-"`
}

// Name returns the file name used for r.
func (r *Record) Name() string {
	return fmt.Sprintf("%04x-%02d-%04d-%02d-r%d%s", r.RNTI, r.PID, r.Frame, r.Slot, r.Round, Extension)
}

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// Marshal encodes r and compresses it.
func Marshal(r *Record) ([]byte, error) {
	hdr, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("capture: encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(magic) + 8 + len(hdr) + 2*len(r.LLR))
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(hdr)))
	buf.Write(hdr)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(r.LLR)))
	_ = binary.Write(&buf, binary.LittleEndian, r.LLR)

	raw := buf.Bytes()
	return zstdEncoder().EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Unmarshal decompresses and decodes a capture.
func Unmarshal(data []byte) (*Record, error) {
	raw, err := zstdDecoder().DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	rd := bytes.NewReader(raw)

	var m [6]byte
	if _, err := rd.Read(m[:]); err != nil || m != magic {
		return nil, ErrFormat
	}
	var n uint32
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil || int(n) > rd.Len() {
		return nil, fmt.Errorf("%w: header length", ErrFormat)
	}
	hdr := make([]byte, n)
	if _, err := rd.Read(hdr); err != nil {
		return nil, fmt.Errorf("%w: header", ErrFormat)
	}
	var r Record
	if err := json.Unmarshal(hdr, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil || int(n)*2 != rd.Len() {
		return nil, fmt.Errorf("%w: soft value count", ErrFormat)
	}
	r.LLR = make([]fixedpoint.LLR, n)
	if err := binary.Read(rd, binary.LittleEndian, r.LLR); err != nil {
		return nil, fmt.Errorf("%w: soft values", ErrFormat)
	}
	return &r, nil
}

// ReadFile loads one capture file.
func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// List returns the capture files in dir, sorted by name.
func List(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"+Extension))
}

// Config controls which attempts a Writer keeps.
type Config struct {
	Dir        string
	OnNackOnly bool
}

// Writer saves records to a directory.
type Writer struct {
	cfg Config
	log *logger.Logger
}

// NewWriter creates the capture directory if needed.
func NewWriter(cfg Config, log *logger.Logger) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("capture: empty directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create directory: %w", err)
	}
	return &Writer{cfg: cfg, log: log.WithComponent("capture")}, nil
}

// Save writes r unless it succeeded and only failures are kept. It returns
// the path written, or "" when r was skipped.
func (w *Writer) Save(r *Record) (string, error) {
	if r.OK && w.cfg.OnNackOnly {
		return "", nil
	}
	data, err := Marshal(r)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.cfg.Dir, r.Name())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", path, err)
	}
	w.log.Debug("Saved capture",
		logger.String("path", path),
		logger.Int("soft_values", len(r.LLR)),
		logger.Int("compressed", len(data)))
	return path, nil
}
