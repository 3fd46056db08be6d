package emulator

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/capture"
	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/loss"
)

func newLoopbackServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.CommandPort = 0
	cfg.StreamPort = 0
	src, err := capture.NewSynthetic(capture.SyntheticConfig{Frames: 4, Seed: 1})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	srv, err := New(context.Background(), cfg, src, nil, quietLog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dialUDP(t *testing.T, addr net.Addr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, addr.(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// tickUntil drives the server until cond holds or a second has passed.
func tickUntil(t *testing.T, srv *Server, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		if err := srv.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"loss":        func(c *Config) { c.LossProbability = 1.5 },
		"clock":       func(c *Config) { c.ReferenceClock = 0 },
		"rate":        func(c *Config) { c.SampleRate = -1 },
		"port":        func(c *Config) { c.StreamPort = 70000 },
		"same ports":  func(c *Config) { c.StreamPort = c.CommandPort },
		"send buffer": func(c *Config) { c.SendBufferBytes = -1 },
		"nan rate":    func(c *Config) { c.SampleRate = math.NaN() },
		"inf rate":    func(c *Config) { c.SampleRate = math.Inf(1) },
		"huge rate":   func(c *Config) { c.SampleRate = 1e15 },
		"nan clock":   func(c *Config) { c.ReferenceClock = math.NaN() },
		"inf clock":   func(c *Config) { c.ReferenceClock = math.Inf(1) },
		"nan loss":    func(c *Config) { c.LossProbability = math.NaN() },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	cfg := DefaultConfig()
	cfg.LossProbability = -0.1
	if err := cfg.Validate(); !errors.Is(err, loss.ErrProbability) {
		t.Fatalf("expected ErrProbability, got %v", err)
	}
}

func TestServerPacingInterval(t *testing.T) {
	srv := newLoopbackServer(t, DefaultConfig())
	if srv.Interval() != 5*time.Millisecond {
		t.Fatalf("expected 5ms pacing, got %v", srv.Interval())
	}
}

func TestNewRejectsUnpaceableRates(t *testing.T) {
	src, err := capture.NewSynthetic(capture.SyntheticConfig{Frames: 1, Seed: 1})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	defer src.Close()
	for _, rate := range []float64{1e15, math.NaN(), math.Inf(1)} {
		cfg := DefaultConfig()
		cfg.Host = "127.0.0.1"
		cfg.CommandPort, cfg.StreamPort = 0, 0
		cfg.SampleRate = rate
		if srv, err := New(context.Background(), cfg, src, nil, quietLog); err == nil {
			srv.Close()
			t.Fatalf("rate %v: expected New to fail", rate)
		}
	}
}

func TestServerLogsPacing(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.CommandPort, cfg.StreamPort = 0, 0
	src, err := capture.NewSynthetic(capture.SyntheticConfig{Frames: 1, Seed: 1})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	srv, err := New(context.Background(), cfg, src, nil, logging.New(logging.Info, logging.Text, &buf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()
	if out := buf.String(); !strings.Contains(out, "interval=5ms") || !strings.Contains(out, "fps=200") {
		t.Fatalf("listening line missing pacing: %q", out)
	}
}

func TestServerEchoesControlPacket(t *testing.T) {
	srv := newLoopbackServer(t, DefaultConfig())
	client := dialUDP(t, net.UDPAddrFromAddrPort(srv.CommandAddr()))

	pkt := hiqsdr.NewControlPacket(hiqsdr.ControlFields{
		ID:       hiqsdr.DefaultID,
		RXPhase:  hiqsdr.FrequencyToPhase(7_100_000, hiqsdr.DefaultReferenceClock),
		RateCode: 41,
		Firmware: 2,
	})
	if _, err := client.Write(pkt); err != nil {
		t.Fatalf("write: %v", err)
	}

	echoed := false
	tickUntil(t, srv, func() bool {
		if echoed {
			return true
		}
		client.SetReadDeadline(time.Now().Add(time.Millisecond))
		buf := make([]byte, 64)
		n, err := client.Read(buf)
		if err != nil {
			return false
		}
		if !bytes.Equal(buf[:n], pkt) {
			t.Fatalf("echo differs: % x", buf[:n])
		}
		echoed = true
		return true
	})
}

func TestServerStreamsOnlyBetweenStartAndStop(t *testing.T) {
	srv := newLoopbackServer(t, DefaultConfig())
	client := dialUDP(t, net.UDPAddrFromAddrPort(srv.StreamAddr()))

	for i := 0; i < 3; i++ {
		if err := srv.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if srv.Stats().Sent != 0 {
		t.Fatalf("frames sent before start")
	}

	if _, err := client.Write(hiqsdr.StartPayload); err != nil {
		t.Fatalf("write start: %v", err)
	}
	tickUntil(t, srv, func() bool { return srv.Stats().Sent >= 3 })

	local := client.LocalAddr().(*net.UDPAddr).AddrPort()
	if got := srv.State().Requester; got.Port() != local.Port() {
		t.Fatalf("requester %v, client %v", got, local)
	}

	buf := make([]byte, 2*hiqsdr.FrameSize)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if n != hiqsdr.FrameSize {
		t.Fatalf("expected %d-byte frame, got %d", hiqsdr.FrameSize, n)
	}

	if _, err := client.Write(hiqsdr.StopPayload); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	tickUntil(t, srv, func() bool { return !srv.State().Enabled })

	sent := srv.Stats().Sent
	for i := 0; i < 5; i++ {
		if err := srv.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if srv.Stats().Sent != sent {
		t.Fatalf("frames sent after stop: %d -> %d", sent, srv.Stats().Sent)
	}
}

func TestServerTotalLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LossProbability = 1
	srv := newLoopbackServer(t, cfg)
	client := dialUDP(t, net.UDPAddrFromAddrPort(srv.StreamAddr()))

	if _, err := client.Write(hiqsdr.StartPayload); err != nil {
		t.Fatalf("write start: %v", err)
	}
	tickUntil(t, srv, func() bool { return srv.Stats().Dropped >= 5 })
	if srv.Stats().Sent != 0 {
		t.Fatalf("loss probability 1 must suppress every frame")
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv := newLoopbackServer(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}
