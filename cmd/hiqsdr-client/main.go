package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/record"
)

type clientConfig struct {
	host        string
	commandPort int
	streamPort  int
	rxFreq      float64
	sampleRate  float64
	refClock    float64
	duration    time.Duration
	echoTimeout time.Duration
	recordPath  string
}

func main() {
	cfg := clientConfig{}
	flag.StringVar(&cfg.host, "host", "127.0.0.1", "Emulator or device address")
	flag.IntVar(&cfg.commandPort, "command-port", hiqsdr.DefaultCommandPort, "Command UDP port")
	flag.IntVar(&cfg.streamPort, "stream-port", hiqsdr.DefaultStreamPort, "Stream UDP port")
	flag.Float64Var(&cfg.rxFreq, "freq", 7_100_000, "Receive frequency in Hz")
	flag.Float64Var(&cfg.sampleRate, "rate", hiqsdr.DefaultSampleRate, "Requested sample rate in Hz")
	flag.Float64Var(&cfg.refClock, "ref-clock", hiqsdr.DefaultReferenceClock, "Reference clock in Hz")
	flag.DurationVar(&cfg.duration, "duration", 2*time.Second, "How long to stream")
	flag.DurationVar(&cfg.echoTimeout, "echo-timeout", 200*time.Millisecond, "Wait per control packet attempt")
	flag.StringVar(&cfg.recordPath, "record", "", "Optional parquet file receiving the streamed samples")
	logLevel := flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	flag.Parse()

	logger, err := logging.NewFromStrings(*logLevel, "text", os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("client failed", logging.F("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg clientConfig, logger logging.Logger) error {
	code, ok := hiqsdr.SampleRateToRateCode(cfg.sampleRate, cfg.refClock)
	if !ok {
		return fmt.Errorf("sample rate %v has no rate code", cfg.sampleRate)
	}
	pkt := hiqsdr.NewControlPacket(hiqsdr.ControlFields{
		ID:       hiqsdr.DefaultID,
		RXPhase:  hiqsdr.FrequencyToPhase(cfg.rxFreq, cfg.refClock),
		TXPhase:  hiqsdr.FrequencyToPhase(cfg.rxFreq, cfg.refClock),
		RateCode: code,
		Firmware: 2,
	})

	cmdAddr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.commandPort))
	if err := sendControl(ctx, cmdAddr, pkt, cfg.echoTimeout); err != nil {
		return err
	}
	logger.Info("control packet echoed", logging.F("rx_freq_hz", cfg.rxFreq), logging.F("rate_code", code))

	var rec *record.Writer
	if cfg.recordPath != "" {
		f, err := os.Create(cfg.recordPath)
		if err != nil {
			return err
		}
		rec = record.NewWriter(f, record.Metadata{
			Emulator:      cfg.host,
			RXFrequencyHz: cfg.rxFreq,
			SampleRateHz:  cfg.sampleRate,
			StartedAt:     time.Now(),
		})
	}

	streamAddr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.streamPort))
	stats, err := stream(ctx, streamAddr, cfg.duration, rec)
	if rec != nil {
		if cerr := rec.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}

	fields := []logging.Field{
		logging.F("frames", stats.Frames),
		logging.F("missed", stats.Missed),
		logging.F("bad_size", stats.BadSize),
		logging.F("fps", fmt.Sprintf("%.1f", stats.FramesPerSecond())),
	}
	if rec != nil {
		fields = append(fields, logging.F("recorded", cfg.recordPath))
	}
	logger.Info("stream finished", fields...)
	if stats.Frames == 0 {
		return errors.New("no frames received")
	}
	return nil
}

// sendControl sends pkt and waits for the identical echo, retrying with
// backoff since UDP may lose either direction.
func sendControl(ctx context.Context, addr string, pkt []byte, timeout time.Duration) error {
	conn, err := net.Dial("udp4", addr)
	if err != nil {
		return fmt.Errorf("dial command port: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, 64)
	attempt := func() error {
		if _, err := conn.Write(pkt); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		if !bytes.Equal(buf[:n], pkt) {
			return fmt.Errorf("echo differs from request: % x", buf[:n])
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)); err != nil {
		return fmt.Errorf("control echo: %w", err)
	}
	return nil
}

// streamStats summarises one streaming session.
type streamStats struct {
	Frames  uint64
	Missed  uint64
	BadSize uint64
	Elapsed time.Duration
}

func (s streamStats) FramesPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// seqTracker counts frames missing from the 8-bit sequence in byte 0.
type seqTracker struct {
	started bool
	last    uint8
}

// Observe returns how many frames were skipped before seq.
func (t *seqTracker) Observe(seq uint8) uint64 {
	if !t.started {
		t.started = true
		t.last = seq
		return 0
	}
	gap := seq - t.last - 1
	t.last = seq
	return uint64(gap)
}

func stream(ctx context.Context, addr string, duration time.Duration, rec *record.Writer) (streamStats, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return streamStats{}, err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return streamStats{}, err
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(hiqsdr.StartPayload, raddr); err != nil {
		return streamStats{}, fmt.Errorf("send start: %w", err)
	}
	defer conn.WriteToUDP(hiqsdr.StopPayload, raddr)

	var (
		stats   streamStats
		tracker seqTracker
		buf     = make([]byte, 2*hiqsdr.FrameSize)
		start   = time.Now()
		end     = start.Add(duration)
	)
	for time.Now().Before(end) && ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return stats, err
		}
		if n != hiqsdr.FrameSize {
			stats.BadSize++
			continue
		}
		frame := hiqsdr.Frame(buf[:n])
		stats.Frames++
		stats.Missed += tracker.Observe(frame.Sequence())
		if rec != nil {
			if err := rec.WriteFrame(frame); err != nil {
				return stats, err
			}
		}
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}
