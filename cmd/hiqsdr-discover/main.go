package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/mdns"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "How long to browse")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" HiQSDR emulator discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.%s\n", mdns.ServiceType, mdns.Domain)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	hosts, err := mdns.Discover(context.Background(), *timeout)
	duration := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}
	if len(hosts) == 0 {
		fmt.Printf("No emulators found (%s)\n", duration)
		return
	}

	fmt.Printf("Discovered %d emulator(s) in %s\n", len(hosts), duration)
	fmt.Println("===============================================================")
	for i, h := range hosts {
		fmt.Printf(" Emulator #%d\n", i+1)
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance    : %s\n", h.Instance)
		fmt.Printf(" Hostname    : %s\n", h.Hostname)
		fmt.Printf(" Command port: %d\n", h.CommandPort)
		fmt.Printf(" Stream port : %d\n", h.StreamPort)
		if h.SampleRate > 0 {
			fmt.Printf(" Sample rate : %.0f Hz\n", h.SampleRate)
		}
		fmt.Println(" Connection hints:")
		if len(h.Addresses) == 0 {
			fmt.Println("   <none>")
		}
		for _, ip := range h.Addresses {
			fmt.Printf("   - hiqsdr-client --host %s --command-port %d --stream-port %d\n", ip, h.CommandPort, h.StreamPort)
		}
		fmt.Println("===============================================================")
	}
}
