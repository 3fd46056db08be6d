package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/hiqsdr-emu/internal/capture"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/telemetry"
	"github.com/rjboer/hiqsdr-emu/internal/udpsock"
)

// MaxBackpressurePause caps the wait after the kernel refuses a frame.
const MaxBackpressurePause = 100 * time.Millisecond

// LossGate decides whether a ready frame goes out.
type LossGate interface {
	ShouldSend() bool
}

// EngineStats counts frame outcomes since start.
type EngineStats struct {
	Sent         uint64
	Dropped      uint64
	Backpressure uint64
}

// Engine moves one capture frame per step to the streaming requester.
type Engine struct {
	source   capture.Source
	gate     LossGate
	conn     PacketConn
	state    *StreamingState
	logger   logging.Logger
	reporter telemetry.Reporter

	// FatalSendErrors makes send failures other than a full buffer end Run.
	FatalSendErrors bool

	pause backoff.BackOff
	sleep func(ctx context.Context, d time.Duration) error

	sent         atomic.Uint64
	dropped      atomic.Uint64
	backpressure atomic.Uint64
}

func NewEngine(source capture.Source, gate LossGate, conn PacketConn, state *StreamingState, reporter telemetry.Reporter, logger logging.Logger) *Engine {
	return &Engine{
		source:          source,
		gate:            gate,
		conn:            conn,
		state:           state,
		logger:          logging.Subsystem(logger, "engine"),
		reporter:        reporter,
		FatalSendErrors: true,
		pause:           newBackpressurePause(),
		sleep:           sleepContext,
	}
}

func newBackpressurePause() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = MaxBackpressurePause
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Step runs one engine tick. It returns an error only for conditions the
// emulator cannot recover from: an unreadable capture, or a send failure
// while FatalSendErrors is set.
func (e *Engine) Step(ctx context.Context) error {
	snap := e.state.Snapshot()
	if !snap.Active() {
		return nil
	}

	frame, err := e.source.Next()
	if err != nil {
		return fmt.Errorf("capture source: %w", err)
	}

	if e.gate != nil && !e.gate.ShouldSend() {
		e.dropped.Add(1)
		e.report(telemetry.EventFrameDropped, snap, nil, nil)
		return nil
	}

	err = e.conn.TrySend(frame, snap.Requester)
	if errors.Is(err, udpsock.ErrWouldBlock) {
		wait := e.nextPause()
		e.logger.Debug("send buffer full, pausing", logging.F("pause_ms", wait.Milliseconds()))
		if err := e.sleep(ctx, wait); err != nil {
			return nil
		}
		err = e.conn.TrySend(frame, snap.Requester)
		if errors.Is(err, udpsock.ErrWouldBlock) {
			e.backpressure.Add(1)
			e.report(telemetry.EventFrameSkipped, snap, nil, nil)
			return nil
		}
	}
	if err != nil {
		e.logger.Error("send frame failed", logging.F("peer", snap.Requester), logging.F("err", err))
		e.report(telemetry.EventSendError, snap, nil, err)
		if e.FatalSendErrors {
			return fmt.Errorf("send frame to %s: %w", snap.Requester, err)
		}
		return nil
	}

	e.pause.Reset()
	e.sent.Add(1)
	e.report(telemetry.EventFrameSent, snap, frame, nil)
	return nil
}

// Stats returns the frame counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Sent:         e.sent.Load(),
		Dropped:      e.dropped.Load(),
		Backpressure: e.backpressure.Load(),
	}
}

func (e *Engine) nextPause() time.Duration {
	wait := e.pause.NextBackOff()
	if wait == backoff.Stop || wait > MaxBackpressurePause {
		wait = MaxBackpressurePause
	}
	return wait
}

func (e *Engine) report(kind telemetry.EventKind, snap StreamSnapshot, frame []byte, err error) {
	if e.reporter == nil {
		return
	}
	e.reporter.Report(telemetry.Event{
		Kind:      kind,
		Time:      time.Now(),
		Peer:      snap.Requester,
		Streaming: snap.Enabled,
		Frame:     frame,
		Err:       err,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
