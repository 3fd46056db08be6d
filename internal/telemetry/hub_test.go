package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
)

var testPeer = netip.MustParseAddrPort("192.0.2.1:40000")

func newTestHub(interval time.Duration) *Hub {
	cfg := DefaultHubConfig()
	cfg.SpectrumInterval = interval
	return NewHub(cfg, logging.New(logging.Debug, logging.Text, io.Discard))
}

// toneFrame encodes a tone at offsetHz from the tuned frequency at 48 kHz.
func toneFrame(seq uint8, offsetHz, amp float64) []byte {
	iq := make([]complex64, hiqsdr.SamplesPerFrame)
	for n := range iq {
		phase := 2 * math.Pi * offsetHz * float64(n) / hiqsdr.DefaultSampleRate
		iq[n] = complex64(complex(amp*math.Cos(phase), amp*math.Sin(phase)))
	}
	return hiqsdr.EncodeFrame(seq, iq)
}

func decoded(t *testing.T, rxHz float64) hiqsdr.ControlDecode {
	t.Helper()
	pkt := hiqsdr.NewControlPacket(hiqsdr.ControlFields{
		ID:       hiqsdr.DefaultID,
		RXPhase:  hiqsdr.FrequencyToPhase(rxHz, hiqsdr.DefaultReferenceClock),
		RateCode: 41,
	})
	return hiqsdr.DecodeControl(pkt, hiqsdr.DefaultReferenceClock)
}

func TestHubStatusTracksEvents(t *testing.T) {
	hub := newTestHub(0)
	hub.Report(Event{Kind: EventCommand, Peer: testPeer, Control: decoded(t, 7_100_000)})
	hub.Report(Event{Kind: EventCommand, Peer: testPeer, Control: hiqsdr.DecodeControl([]byte{1, 2}, hiqsdr.DefaultReferenceClock)})
	hub.Report(Event{Kind: EventDirective, Peer: testPeer, Directive: hiqsdr.DirectiveStart, Streaming: true})
	hub.Report(Event{Kind: EventFrameDropped, Peer: testPeer, Streaming: true})
	hub.Report(Event{Kind: EventFrameSkipped, Peer: testPeer, Streaming: true})

	st := hub.Status()
	if st.Counters.Commands != 2 || st.Counters.MalformedCommands != 1 {
		t.Fatalf("unexpected command counters %+v", st.Counters)
	}
	if st.LastControl == nil || math.Abs(st.LastControl.RXFrequencyHz-7_100_000) > 30 {
		t.Fatalf("unexpected last control %+v", st.LastControl)
	}
	if st.LastControl.SampleRateHz != 48_000 {
		t.Fatalf("expected 48 kHz rate, got %v", st.LastControl.SampleRateHz)
	}
	if !st.Streaming || st.Requester != testPeer.String() {
		t.Fatalf("expected streaming to %v, got %+v", testPeer, st)
	}
	if st.Counters.FramesDropped != 1 || st.Counters.FramesBackpressure != 1 {
		t.Fatalf("unexpected frame counters %+v", st.Counters)
	}
	if st.LastMalformed == "" {
		t.Fatalf("expected malformed reason")
	}

	hub.Report(Event{Kind: EventDirective, Peer: testPeer, Directive: hiqsdr.DirectiveStop})
	if hub.Status().Streaming {
		t.Fatalf("stop should clear streaming")
	}
}

func TestHubSpectrumOfSentFrame(t *testing.T) {
	hub := newTestHub(0)
	hub.Report(Event{Kind: EventFrameSent, Peer: testPeer, Streaming: true, Frame: toneFrame(7, 1000, 0.5)})

	snap := hub.Spectrum()
	if len(snap.Bins) != hiqsdr.SamplesPerFrame {
		t.Fatalf("expected %d bins, got %d", hiqsdr.SamplesPerFrame, len(snap.Bins))
	}
	if snap.Sequence != 7 {
		t.Fatalf("expected sequence 7, got %d", snap.Sequence)
	}
	if snap.PeakOffsetHz != 1000 {
		t.Fatalf("expected peak at +1000 Hz, got %v", snap.PeakOffsetHz)
	}
	if math.Abs(snap.PeakDBFS-20*math.Log10(0.5)) > 0.1 {
		t.Fatalf("unexpected peak level %v", snap.PeakDBFS)
	}
	for _, v := range snap.Bins {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			t.Fatalf("bins must be finite")
		}
	}
}

func TestHubSpectrumIsThrottled(t *testing.T) {
	hub := newTestHub(time.Hour)
	now := time.Now()
	hub.Report(Event{Kind: EventFrameSent, Time: now, Frame: toneFrame(1, 1000, 0.5)})
	hub.Report(Event{Kind: EventFrameSent, Time: now.Add(time.Second), Frame: toneFrame(2, 1000, 0.5)})
	if seq := hub.Spectrum().Sequence; seq != 1 {
		t.Fatalf("second frame should not be analysed, got sequence %d", seq)
	}
	if hub.Status().Counters.FramesSent != 2 {
		t.Fatalf("every sent frame must be counted")
	}
}

func TestHandleStatusAndSpectrum(t *testing.T) {
	hub := newTestHub(0)
	ws := NewWebServer("127.0.0.1:0", hub, nil)

	rr := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/spectrum", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var empty SpectrumSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&empty); err != nil {
		t.Fatalf("decode empty spectrum: %v", err)
	}
	if len(empty.Bins) != 0 {
		t.Fatalf("expected no bins before the first frame")
	}

	hub.Report(Event{Kind: EventCommand, Peer: testPeer, Control: decoded(t, 3_500_000)})
	rr = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Counters.Commands != 1 || st.LastControl == nil {
		t.Fatalf("unexpected status %+v", st)
	}

	rr = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hub := newTestHub(0)
	hub.Report(Event{Kind: EventCommand, Peer: testPeer, Control: decoded(t, 7_000_000)})
	hub.Report(Event{Kind: EventDirective, Peer: testPeer, Directive: hiqsdr.DirectiveStart, Streaming: true})
	hub.Report(Event{Kind: EventFrameSent, Peer: testPeer, Streaming: true, Frame: toneFrame(0, 0, 0.1)})

	ws := NewWebServer("127.0.0.1:0", hub, nil)
	rr := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`hiqsdr_commands_total{result="decoded"} 1`,
		`hiqsdr_directives_total{directive="start"} 1`,
		`hiqsdr_frames_total{outcome="sent"} 1`,
		`hiqsdr_streaming 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestLiveWebsocket(t *testing.T) {
	hub := newTestHub(0)
	srv := httptest.NewServer(NewWebServer("", hub, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read status: %v", err)
	}

	hub.Report(Event{Kind: EventDirective, Peer: testPeer, Directive: hiqsdr.DirectiveStart, Streaming: true})
	var ev LiveEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Kind != string(EventDirective) || ev.Detail != "start" || !ev.Streaming {
		t.Fatalf("unexpected live event %+v", ev)
	}

	hub.Report(Event{Kind: EventFrameSent, Peer: testPeer, Streaming: true, Frame: toneFrame(3, 2000, 0.5)})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read spectrum: %v", err)
	}
	if ev.Kind != "spectrum" || ev.Spectrum == nil || ev.Spectrum.PeakOffsetHz != 2000 {
		t.Fatalf("unexpected spectrum event %+v", ev)
	}
}

func TestStdoutReporterProgress(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.Text, &buf), 2)
	for i := 0; i < 4; i++ {
		r.Report(Event{Kind: EventFrameSent, Peer: testPeer})
	}
	r.Report(Event{Kind: EventFrameDropped, Peer: testPeer})
	if got := strings.Count(buf.String(), "stream progress"); got != 2 {
		t.Fatalf("expected 2 progress lines, got %d:\n%s", got, buf.String())
	}
	r.Report(Event{Kind: EventDirective, Peer: testPeer, Directive: hiqsdr.DirectiveStop})
	out := buf.String()
	if !strings.Contains(out, "stream summary") || !strings.Contains(out, "frames_sent=4") || !strings.Contains(out, "frames_dropped=1") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
}

func TestMultiReporterSkipsNil(t *testing.T) {
	hub := newTestHub(0)
	MultiReporter{nil, hub}.Report(Event{Kind: EventFrameDropped})
	if hub.Status().Counters.FramesDropped != 1 {
		t.Fatalf("event not forwarded")
	}
}
