package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"rfxgate/host/rfx"
	"rfxgate/protocol"
)

var (
	device  = flag.String("device", "/dev/ttyUSB0", "Serial device path")
	verbose = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", "rfxgate").Logger()
	if !*verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg := rfx.DefaultConfig(*device)
	cfg.Logger = logger
	dev := rfx.New(cfg)

	dev.On(rfx.EventStatus, func(data any) {
		logger.Info().Stringer("status", data.(*rfx.StatusReport)).Msg("status")
	})
	dev.On(rfx.EventResponse, func(data any) {
		r := data.(rfx.ResponseEvent)
		logger.Info().Str("result", r.Message).Uint8("seqnbr", r.Seq).Msg("response")
	})
	for _, name := range []string{"lighting1", "energy"} {
		name := name
		dev.On(name, func(data any) {
			logger.Info().Str("event", name).Msgf("%+v", data)
		})
	}
	// Temperature events are suffixed by sensor family.
	for subtype := 1; subtype <= 11; subtype++ {
		name := fmt.Sprintf("temp%d", subtype)
		dev.On(name, func(data any) {
			ev := data.(*protocol.TemperatureEvent)
			logger.Info().
				Str("id", ev.ID).
				Float64("celsius", ev.Temperature).
				Uint8("rssi", ev.Signal).
				Uint8("battery", ev.Battery).
				Msg(name)
		})
	}

	done := make(chan struct{})
	dev.On(rfx.EventConnectFailed, func(data any) {
		logger.Error().Str("reason", fmt.Sprint(data)).Msg("connect failed")
		close(done)
	})
	dev.On(rfx.EventDisconnect, func(data any) {
		logger.Error().Str("reason", fmt.Sprint(data)).Msg("disconnected")
		close(done)
	})

	if err := dev.Initialise(func() {
		logger.Info().Msg("device ready")
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise device")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info().Msg("shutting down")
		dev.Close()
	case <-done:
		os.Exit(1)
	}
}
