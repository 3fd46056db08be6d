package record

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

// Sample is one I/Q pair as stored in a recording.
type Sample struct {
	Frame    int64 `parquet:"frame"`
	Sequence int32 `parquet:"sequence"`
	Index    int32 `parquet:"index"`
	I        int32 `parquet:"i"`
	Q        int32 `parquet:"q"`
}

// Metadata is stored as JSON under the "hiqsdr" key of the file footer.
type Metadata struct {
	Emulator      string    `json:"emulator"`
	RXFrequencyHz float64   `json:"rxFrequencyHz"`
	SampleRateHz  float64   `json:"sampleRateHz"`
	StartedAt     time.Time `json:"startedAt"`
}

// Writer appends received frames to a parquet file, one row per I/Q pair.
type Writer struct {
	mu     sync.Mutex
	file   io.Closer
	writer *parquet.GenericWriter[Sample]
	rows   []Sample
	frames int64
}

// NewWriter wraps w. Close flushes the footer and closes w when it is an
// io.Closer.
func NewWriter(w io.Writer, meta Metadata) *Writer {
	metaStr := "{}"
	if b, err := json.Marshal(meta); err == nil {
		metaStr = string(b)
	}
	rw := &Writer{
		writer: parquet.NewGenericWriter[Sample](w, parquet.KeyValueMetadata("hiqsdr", metaStr)),
		rows:   make([]Sample, hiqsdr.SamplesPerFrame),
	}
	if c, ok := w.(io.Closer); ok {
		rw.file = c
	}
	return rw
}

// WriteFrame decodes frame and appends its samples.
func (w *Writer) WriteFrame(frame hiqsdr.Frame) error {
	raw, err := frame.RawIQ()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rows := w.rows
	seq := int32(frame.Sequence())
	for n := range rows {
		rows[n] = Sample{
			Frame:    w.frames,
			Sequence: seq,
			Index:    int32(n),
			I:        raw[2*n],
			Q:        raw[2*n+1],
		}
	}
	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("write frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

// Frames is the number of frames written so far.
func (w *Writer) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Close(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return err
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
