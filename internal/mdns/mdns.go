package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD type emulators advertise under.
	ServiceType = "_hiqsdr._udp"
	Domain      = "local."
)

// Service describes an emulator instance to advertise.
type Service struct {
	Instance    string
	CommandPort int
	StreamPort  int
	SampleRate  float64
	Firmware    int
}

// TXT renders the service's TXT records.
func (s Service) TXT() []string {
	txt := []string{
		"cmd=" + strconv.Itoa(s.CommandPort),
		"rx=" + strconv.Itoa(s.StreamPort),
		"rate=" + strconv.FormatFloat(s.SampleRate, 'f', -1, 64),
	}
	if s.Firmware > 0 {
		txt = append(txt, "fw="+strconv.Itoa(s.Firmware))
	}
	return txt
}

// Advertise registers the service and keeps answering queries until ctx is
// cancelled.
func Advertise(ctx context.Context, svc Service) error {
	if svc.Instance == "" {
		return errors.New("mdns: instance name is required")
	}
	if svc.CommandPort <= 0 {
		return fmt.Errorf("mdns: command port %d cannot be advertised", svc.CommandPort)
	}
	server, err := zeroconf.Register(svc.Instance, ServiceType, Domain, svc.CommandPort, svc.TXT(), nil)
	if err != nil {
		return fmt.Errorf("register error: %w", err)
	}
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Host is a discovered emulator.
type Host struct {
	Instance    string
	Hostname    string
	Addresses   []net.IP
	CommandPort int
	StreamPort  int
	SampleRate  float64
	TXT         []string
}

// Discover browses for emulators until timeout elapses or ctx is cancelled
// and returns the deduplicated hosts ordered by instance name.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				resultMap[key] = hostFromEntry(e)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}
	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)

	h := Host{
		Instance:    cleanInstance(e.Instance),
		Hostname:    e.HostName,
		Addresses:   addrs,
		CommandPort: e.Port,
		TXT:         append([]string{}, e.Text...),
	}
	applyTXT(&h, e.Text)
	return h
}

// applyTXT fills the ports and rate from TXT records. Unknown or malformed
// records are ignored.
func applyTXT(h *Host, txt []string) {
	for _, rec := range txt {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case "cmd":
			if p, err := strconv.Atoi(value); err == nil {
				h.CommandPort = p
			}
		case "rx":
			if p, err := strconv.Atoi(value); err == nil {
				h.StreamPort = p
			}
		case "rate":
			if r, err := strconv.ParseFloat(value, 64); err == nil {
				h.SampleRate = r
			}
		}
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
