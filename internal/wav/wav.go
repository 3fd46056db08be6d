// Package wav stamps a canonical RIFF/WAVE header in front of raw
// interleaved I/Q captures so generic SDR tools can open them.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	HeaderSize    = 44
	Channels      = 2
	BitsPerSample = 16
	formatPCM     = 1
	fmtChunkSize  = 16
	blockAlign    = Channels * BitsPerSample / 8
)

var ErrTooLarge = errors.New("wav: data exceeds 4 GiB")

type header struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteHeader writes the 44-byte header for dataSize bytes of 16-bit
// stereo (I and Q) samples at sampleRate.
func WriteHeader(w io.Writer, dataSize int64, sampleRate uint32) error {
	if dataSize < 0 || dataSize > math.MaxUint32-36 {
		return ErrTooLarge
	}
	if sampleRate == 0 {
		return errors.New("wav: sample rate must be positive")
	}
	h := header{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(dataSize) + 36,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       fmtChunkSize,
		AudioFormat:   formatPCM,
		NumChannels:   Channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * blockAlign,
		BlockAlign:    blockAlign,
		BitsPerSample: BitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// Convert writes the header followed by the size bytes of in, unchanged.
// It returns the number of payload bytes copied.
func Convert(w io.Writer, in io.Reader, size int64, sampleRate uint32) (int64, error) {
	if err := WriteHeader(w, size, sampleRate); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, io.LimitReader(in, size))
	if err != nil {
		return n, err
	}
	if n != size {
		return n, fmt.Errorf("wav: copied %d of %d bytes", n, size)
	}
	return n, nil
}

// ConvertFile converts the capture at inPath into a WAV file at outPath.
func ConvertFile(inPath, outPath string, sampleRate uint32) (int64, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	n, err := Convert(out, in, info.Size(), sampleRate)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
