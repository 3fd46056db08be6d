package emulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/capture"
	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/loss"
	"github.com/rjboer/hiqsdr-emu/internal/telemetry"
	"github.com/rjboer/hiqsdr-emu/internal/udpsock"
)

// Config holds the values fixed at startup.
type Config struct {
	Host            string
	CommandPort     int
	StreamPort      int
	ReferenceClock  float64
	SampleRate      float64
	LossProbability float64
	LossSeed        int64
	FatalSendErrors bool
	SendBufferBytes int
}

// DefaultConfig matches the hardware's ports and clock.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		CommandPort:     hiqsdr.DefaultCommandPort,
		StreamPort:      hiqsdr.DefaultStreamPort,
		ReferenceClock:  hiqsdr.DefaultReferenceClock,
		SampleRate:      hiqsdr.DefaultSampleRate,
		FatalSendErrors: true,
	}
}

// Validate rejects values the emulator cannot run with.
func (c Config) Validate() error {
	if !positiveFinite(c.ReferenceClock) {
		return fmt.Errorf("reference clock must be positive and finite, got %v", c.ReferenceClock)
	}
	if !positiveFinite(c.SampleRate) {
		return fmt.Errorf("sample rate must be positive and finite, got %v", c.SampleRate)
	}
	if hiqsdr.FrameInterval(c.SampleRate) <= 0 {
		return fmt.Errorf("sample rate %v is too high to pace frames", c.SampleRate)
	}
	if c.LossProbability < 0 || c.LossProbability > 1 || math.IsNaN(c.LossProbability) {
		return fmt.Errorf("%w: got %v", loss.ErrProbability, c.LossProbability)
	}
	for name, port := range map[string]int{"command": c.CommandPort, "stream": c.StreamPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s port %d out of range", name, port)
		}
	}
	if c.CommandPort != 0 && c.CommandPort == c.StreamPort {
		return fmt.Errorf("command and stream ports must differ")
	}
	if c.SendBufferBytes < 0 {
		return fmt.Errorf("send buffer size must not be negative")
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// CommandAddr is the host:port the command socket binds to.
func (c Config) CommandAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.CommandPort))
}

// StreamAddr is the host:port the stream socket binds to.
func (c Config) StreamAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.StreamPort))
}

// Server owns both sockets, the capture and the tick loop.
type Server struct {
	cfg      Config
	interval time.Duration
	logger   logging.Logger

	cmdConn    *udpsock.Conn
	streamConn *udpsock.Conn
	source     capture.Source

	state   *StreamingState
	command *CommandChannel
	control *StreamControlChannel
	engine  *Engine
}

// New binds the command and stream sockets and wires the channels and the
// engine. The server takes ownership of source.
func New(ctx context.Context, cfg Config, source capture.Source, reporter telemetry.Reporter, logger logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("emulator: capture source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	gate, err := loss.New(cfg.LossProbability, cfg.LossSeed)
	if err != nil {
		return nil, err
	}

	cmdConn, err := udpsock.Listen(ctx, cfg.CommandAddr())
	if err != nil {
		return nil, fmt.Errorf("command interface: %w", err)
	}
	streamConn, err := udpsock.Listen(ctx, cfg.StreamAddr())
	if err != nil {
		cmdConn.Close()
		return nil, fmt.Errorf("rx interface: %w", err)
	}
	if cfg.SendBufferBytes > 0 {
		if err := streamConn.SetWriteBuffer(cfg.SendBufferBytes); err != nil {
			logger.Warn("set send buffer failed", logging.F("bytes", cfg.SendBufferBytes), logging.F("err", err))
		}
	}

	s := &Server{
		cfg:        cfg,
		interval:   hiqsdr.FrameInterval(cfg.SampleRate),
		logger:     logging.Subsystem(logger, "emulator"),
		cmdConn:    cmdConn,
		streamConn: streamConn,
		source:     source,
		state:      &StreamingState{},
	}
	s.command = NewCommandChannel(cmdConn, cfg.ReferenceClock, reporter, logger)
	s.control = NewStreamControlChannel(streamConn, s.state, reporter, logger)
	s.engine = NewEngine(source, gate, streamConn, s.state, reporter, logger)
	s.engine.FatalSendErrors = cfg.FatalSendErrors

	fields := []logging.Field{
		logging.F("command", cmdConn.LocalAddr()),
		logging.F("rx", streamConn.LocalAddr()),
		logging.F("loss_probability", cfg.LossProbability),
		logging.F("interval", s.interval),
		logging.F("fps", hiqsdr.FramesPerSecond(cfg.SampleRate)),
	}
	if size, err := streamConn.SendBufferSize(); err == nil {
		fields = append(fields, logging.F("sndbuf", size))
	}
	s.logger.Info("emulator listening", fields...)
	return s, nil
}

// Run polls both channels and steps the engine once per pacing interval
// until ctx is cancelled or the engine hits a fatal error.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.Tick(ctx); err != nil {
			return err
		}
	}
}

// Tick performs one scheduling cycle: command poll, directive poll, engine
// step.
func (s *Server) Tick(ctx context.Context) error {
	s.command.Poll()
	s.control.Poll()
	return s.engine.Step(ctx)
}

// Interval is the pacing interval derived from the sample rate.
func (s *Server) Interval() time.Duration { return s.interval }

// State returns the current streaming state.
func (s *Server) State() StreamSnapshot { return s.state.Snapshot() }

// Stats returns the engine counters.
func (s *Server) Stats() EngineStats { return s.engine.Stats() }

// CommandAddr is the bound command socket address.
func (s *Server) CommandAddr() netip.AddrPort { return s.cmdConn.LocalAddr() }

// StreamAddr is the bound stream socket address.
func (s *Server) StreamAddr() netip.AddrPort { return s.streamConn.LocalAddr() }

// Close releases the capture and both sockets.
func (s *Server) Close() error {
	return errors.Join(
		s.source.Close(),
		s.cmdConn.Close(),
		s.streamConn.Close(),
	)
}
