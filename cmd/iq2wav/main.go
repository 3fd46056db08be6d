package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/wav"
)

func main() {
	logger := logging.New(logging.Info, logging.Text, os.Stderr)
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "usage: %s <input-IQ-file> <output-WAV-file> <sample-rate>\n", os.Args[0])
		os.Exit(2)
	}
	rate, err := strconv.ParseUint(os.Args[3], 10, 32)
	if err != nil || rate == 0 {
		logger.Error("invalid sample rate", logging.F("value", os.Args[3]))
		os.Exit(2)
	}

	n, err := wav.ConvertFile(os.Args[1], os.Args[2], uint32(rate))
	if err != nil {
		logger.Error("convert failed", logging.F("in", os.Args[1]), logging.F("out", os.Args[2]), logging.F("err", err))
		os.Exit(1)
	}
	logger.Info("wav written",
		logging.F("out", os.Args[2]),
		logging.F("bytes", n),
		logging.F("sample_rate", rate),
	)
}
