// Package capture provides the recorded sample data the emulator streams.
// Every source hands out fixed-size frames and wraps to the start of the
// capture when it runs out.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

var ErrShortCapture = errors.New("capture is shorter than one frame")

// Source produces sample frames.
type Source interface {
	// Next returns exactly one frame. The slice is only valid until the
	// following call.
	Next() ([]byte, error)
	Close() error
}

// Cyclic reads consecutive frames from a ReaderAt of known size. A frame
// that would run past the end is never returned; the cursor restarts at
// offset 0 first, so trailing bytes shorter than a frame are skipped.
type Cyclic struct {
	mu        sync.Mutex
	r         io.ReaderAt
	size      int64
	frameSize int
	cursor    int64
	wraps     uint64
	buf       []byte
	closer    io.Closer
}

// NewCyclic wraps r. size is the number of readable bytes in r.
func NewCyclic(r io.ReaderAt, size int64, frameSize int) (*Cyclic, error) {
	if frameSize <= 0 {
		frameSize = hiqsdr.FrameSize
	}
	if size < int64(frameSize) {
		return nil, fmt.Errorf("%w: %d bytes, frame is %d", ErrShortCapture, size, frameSize)
	}
	return &Cyclic{
		r:         r,
		size:      size,
		frameSize: frameSize,
		buf:       make([]byte, frameSize),
	}, nil
}

// OpenFile opens a capture file on the local filesystem.
func OpenFile(path string) (*Cyclic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat capture: %w", err)
	}
	c, err := NewCyclic(f, info.Size(), hiqsdr.FrameSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.closer = f
	return c, nil
}

func (c *Cyclic) Next() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cursor+int64(c.frameSize) > c.size {
		c.cursor = 0
		c.wraps++
	}
	n, err := c.r.ReadAt(c.buf, c.cursor)
	if n < c.frameSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame at offset %d: %w", c.cursor, err)
	}
	// ReadAt may report io.EOF together with a full read of the last frame.
	c.cursor += int64(c.frameSize)
	return c.buf, nil
}

// Position is the offset of the next frame.
func (c *Cyclic) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Wraps counts how often the cursor restarted from the beginning.
func (c *Cyclic) Wraps() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wraps
}

// Frames is the number of whole frames in one pass over the capture.
func (c *Cyclic) Frames() int64 {
	return c.size / int64(c.frameSize)
}

func (c *Cyclic) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
