package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestCyclicWrapsWithoutShortFrame(t *testing.T) {
	const frame = 10
	data := patterned(35) // three frames plus five trailing bytes
	c, err := NewCyclic(bytes.NewReader(data), int64(len(data)), frame)
	if err != nil {
		t.Fatalf("NewCyclic: %v", err)
	}

	var seen [][]byte
	for i := 0; i < 7; i++ {
		f, err := c.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if len(f) != frame {
			t.Fatalf("frame %d has %d bytes", i, len(f))
		}
		seen = append(seen, append([]byte(nil), f...))
	}

	for i := 0; i < 3; i++ {
		if !bytes.Equal(seen[i], data[i*frame:(i+1)*frame]) {
			t.Fatalf("frame %d does not match capture offset", i)
		}
		if !bytes.Equal(seen[i], seen[i+3]) {
			t.Fatalf("frame %d not repeated after wrap", i)
		}
	}
	if c.Wraps() != 2 {
		t.Fatalf("expected 2 wraps, got %d", c.Wraps())
	}
	if c.Position() != frame {
		t.Fatalf("expected cursor at %d, got %d", frame, c.Position())
	}
}

func TestCyclicExactMultiple(t *testing.T) {
	data := patterned(2 * hiqsdr.FrameSize)
	c, err := NewCyclic(bytes.NewReader(data), int64(len(data)), hiqsdr.FrameSize)
	if err != nil {
		t.Fatalf("NewCyclic: %v", err)
	}
	first, _ := c.Next()
	first = append([]byte(nil), first...)
	if _, err := c.Next(); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	third, err := c.Next()
	if err != nil {
		t.Fatalf("third frame: %v", err)
	}
	if !bytes.Equal(first, third) {
		t.Fatalf("expected wrap to the first frame")
	}
	if c.Frames() != 2 {
		t.Fatalf("expected 2 frames per pass, got %d", c.Frames())
	}
}

func TestCyclicRejectsShortCapture(t *testing.T) {
	_, err := NewCyclic(bytes.NewReader(make([]byte, 5)), 5, 10)
	if !errors.Is(err, ErrShortCapture) {
		t.Fatalf("expected ErrShortCapture, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) ReadAt([]byte, int64) (int, error) { return 0, errors.New("disk gone") }

func TestCyclicSurfacesReadErrors(t *testing.T) {
	c, err := NewCyclic(failingReader{}, 100, 10)
	if err != nil {
		t.Fatalf("NewCyclic: %v", err)
	}
	if _, err := c.Next(); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.iq")
	data := patterned(3*hiqsdr.FrameSize + 100)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	c, err := Open(context.Background(), path, RemoteConfig{}, SyntheticConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	f, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(f, data[:hiqsdr.FrameSize]) {
		t.Fatalf("first frame mismatch")
	}

	short := filepath.Join(t.TempDir(), "short.iq")
	if err := os.WriteFile(short, make([]byte, 10), 0o644); err != nil {
		t.Fatalf("write short capture: %v", err)
	}
	if _, err := OpenFile(short); !errors.Is(err, ErrShortCapture) {
		t.Fatalf("expected ErrShortCapture, got %v", err)
	}
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.iq")); err == nil {
		t.Fatalf("expected error for missing capture")
	}
}

func TestSyntheticFramesCarrySequence(t *testing.T) {
	c, err := NewSynthetic(SyntheticConfig{Frames: 4, Seed: 1})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	for i := 0; i < 6; i++ {
		f, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := hiqsdr.Frame(f).Sequence(); got != uint8(i%4) {
			t.Fatalf("frame %d: expected sequence %d got %d", i, i%4, got)
		}
	}
}

func TestParseRemote(t *testing.T) {
	cfg, err := ParseRemote("ssh://pi@sdr.local:2222/home/pi/1.iq")
	if err != nil {
		t.Fatalf("ParseRemote: %v", err)
	}
	if cfg.User != "pi" || cfg.Host != "sdr.local" || cfg.Port != 2222 || cfg.Path != "/home/pi/1.iq" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := ParseRemote("ssh://sdr.local/"); err == nil {
		t.Fatalf("expected error without path")
	}
	if !IsRemote("ssh://x/y") || IsRemote("/tmp/x.iq") {
		t.Fatalf("IsRemote misclassified")
	}
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Fatalf("unexpected quoting %s", got)
	}
}
