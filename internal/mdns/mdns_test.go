package mdns

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestServiceTXT(t *testing.T) {
	svc := Service{Instance: "bench", CommandPort: 48248, StreamPort: 48247, SampleRate: 48000, Firmware: 2}
	got := svc.TXT()
	want := []string{"cmd=48248", "rx=48247", "rate=48000", "fw=2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expected %q got %q", i, want[i], got[i])
		}
	}
}

func TestHostFromEntry(t *testing.T) {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: `hiqsdr\ emulator`},
		HostName:      "bench.local.",
		Port:          48248,
		Text:          []string{"cmd=48248", "rx=48247", "rate=48000", "junk", "rx=notaport"},
		AddrIPv4:      []net.IP{net.IPv4(192, 0, 2, 5)},
	}
	h := hostFromEntry(e)
	if h.Instance != "hiqsdr emulator" {
		t.Fatalf("unexpected instance %q", h.Instance)
	}
	if h.CommandPort != 48248 || h.StreamPort != 48247 || h.SampleRate != 48000 {
		t.Fatalf("unexpected host %+v", h)
	}
	if len(h.Addresses) != 1 || len(h.TXT) != 5 {
		t.Fatalf("unexpected addresses or txt %+v", h)
	}
}

func TestAdvertiseValidates(t *testing.T) {
	ctx := context.Background()
	if err := Advertise(ctx, Service{CommandPort: 48248}); err == nil {
		t.Fatalf("expected error for missing instance")
	}
	if err := Advertise(ctx, Service{Instance: "x"}); err == nil {
		t.Fatalf("expected error for missing port")
	}
}
