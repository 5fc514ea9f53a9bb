package capture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/icza/gog"
)

func sampleRecord(ok bool) *Record {
	llr := make([]fixedpoint.LLR, 1500)
	for i := range llr {
		llr[i] = fixedpoint.LLR((i*37)%200 - 100)
	}
	return &Record{
		RNTI: 0x4601, PID: 5, Frame: 12, Slot: 3, Round: 1, G: len(llr), OK: ok,
		Descriptor: sch.Descriptor{TBSize: 25, RBs: 10, Qm: 2, Layers: 1, TargetRate: 340, RV: 2, NDI: 1},
		LLR:        llr,
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	in := sampleRecord(false)

	data := gog.Must(Marshal(in))
	if len(data) >= 2*len(in.LLR) {
		t.Errorf("expected compression, got %d bytes for %d soft values", len(data), len(in.LLR))
	}

	out := gog.Must(Unmarshal(data))
	if out.RNTI != in.RNTI || out.PID != in.PID || out.Round != in.Round || out.G != in.G {
		t.Errorf("header mismatch: %+v", out)
	}
	if out.Descriptor != in.Descriptor {
		t.Errorf("descriptor mismatch: %+v", out.Descriptor)
	}
	if len(out.LLR) != len(in.LLR) {
		t.Fatalf("expected %d soft values, got %d", len(in.LLR), len(out.LLR))
	}
	for i := range in.LLR {
		if out.LLR[i] != in.LLR[i] {
			t.Fatalf("soft value %d: %d != %d", i, out.LLR[i], in.LLR[i])
		}
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not zstd", []byte("hello world")},
		{"wrong magic", zstdEncoder().EncodeAll([]byte("XXXXXX\x00\x00\x00\x00"), nil)},
		{"truncated", func() []byte {
			raw := gog.Must(zstdDecoder().DecodeAll(gog.Must(Marshal(sampleRecord(false))), nil))
			return zstdEncoder().EncodeAll(raw[:len(raw)-3], nil)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, ErrFormat) {
				t.Errorf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestWriter_Save(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	tests := []struct {
		name       string
		onNackOnly bool
		ok         bool
		wantFile   bool
	}{
		{"nack kept", true, false, true},
		{"ack skipped", true, true, false},
		{"ack kept when capturing all", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "captures")
			w := gog.Must(NewWriter(Config{Dir: dir, OnNackOnly: tt.onNackOnly}, log))

			rec := sampleRecord(tt.ok)
			path, err := w.Save(rec)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			files := gog.Must(List(dir))
			if !tt.wantFile {
				if path != "" || len(files) != 0 {
					t.Errorf("expected nothing written, got %q %v", path, files)
				}
				return
			}
			if len(files) != 1 || files[0] != path {
				t.Fatalf("expected [%s], got %v", path, files)
			}
			if filepath.Base(path) != "4601-05-0012-03-r1.llr.zst" {
				t.Errorf("unexpected file name %s", filepath.Base(path))
			}
			back := gog.Must(ReadFile(path))
			if back.OK != tt.ok || len(back.LLR) != len(rec.LLR) {
				t.Errorf("unexpected record read back: ok=%v n=%d", back.OK, len(back.LLR))
			}
		})
	}
}

func TestNewWriter_Errors(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	if _, err := NewWriter(Config{}, log); err == nil {
		t.Error("expected error for empty directory")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWriter(Config{Dir: filepath.Join(file, "sub")}, log); err == nil {
		t.Error("expected error when directory cannot be created")
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "none"+Extension)); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
