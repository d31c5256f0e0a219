// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"visualizer/cmd"
	"visualizer/internal/audio"
	"visualizer/internal/config"
	"visualizer/internal/dsp"
	applog "visualizer/internal/log"
	"visualizer/internal/pipeline"
	"visualizer/internal/session"
	"visualizer/internal/transport"
	"visualizer/internal/transport/udp"
	"visualizer/internal/tui"
	"visualizer/internal/visual"
	"visualizer/pkg/bitint"
	"visualizer/pkg/build"
)

// main runs in three phases:
//
//  1. Startup (cold path): build info, PortAudio, CLI parsing, one-off
//     commands.
//  2. Concurrent (hot path): capture pipeline, push transports, TUI.
//  3. Shutdown (cold path): stop the session, drain the pipeline, close
//     transports.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}

	// One thread for the capture callback, one for everything else.
	runtime.GOMAXPROCS(2)

	if err := audio.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer audio.Terminate()

	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	configureLogging(cfg)

	if cfg.Command != "" {
		if err := executeCommand(cfg.Command); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}
	if !cfg.TUIMode {
		return
	}

	if err := run(cfg); err != nil {
		applog.Fatalf("%v", err)
	}
}

// run wires the pipeline, transports and TUI and blocks until the user
// quits or a termination signal arrives.
func run(cfg *config.Config) error {
	mode, err := visual.ParseMode(cfg.Visual.Mode)
	if err != nil {
		return err
	}

	fftSize := bitint.NextPowerOfTwo(cfg.Audio.FramesPerBuffer)
	extractor, err := dsp.NewExtractor(cfg, fftSize)
	if err != nil {
		return err
	}

	mapper := visual.NewMapper(cfg, mode, pipeline.DefaultIdleTick)
	feed := visual.NewFeed(mode, cfg.Visual.BarCount)
	guard := session.NewGuard()

	factory := func() (pipeline.Source, error) {
		src, err := audio.NewSource(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Recording.Enabled {
			if err := src.StartRecording(cfg.Recording.OutputFile); err != nil {
				applog.Warnf("Recording unavailable: %v", err)
			}
		}
		return src, nil
	}

	p := pipeline.New(factory, extractor, mapper, feed, guard, pipeline.DefaultIdleTick)

	// Microphone access on the desktop is decided when the device opens;
	// the grant arrives with process startup. Open failures surface
	// through the pipeline as capture errors.
	guard.Activate()
	guard.OnPermission(true)
	go p.Run()

	closeTransports, err := startTransports(cfg, feed)
	if err != nil {
		p.Stop()
		return err
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	uiDone := make(chan error, 1)
	go func() {
		uiDone <- tui.StartVisualizerUI(feed, guard)
	}()

	var uiErr error
	select {
	case <-done:
	case uiErr = <-uiDone:
	}

	guard.Stop()
	p.Stop()
	closeTransports()

	if cfg.Recording.Enabled && cfg.Recording.OutputFile != "" {
		fmt.Printf("\nRecording saved to: %s\n", cfg.Recording.OutputFile)
	}
	return uiErr
}

// startTransports launches the configured push transports. The returned
// function shuts them all down.
func startTransports(cfg *config.Config, feed *visual.Feed) (func(), error) {
	var closers []func()

	if cfg.Transport.WSEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WSPort)

		quit := make(chan struct{})
		go func() {
			ticker := time.NewTicker(udp.DefaultSendInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := ws.Send(feed.Latest()); err != nil {
						applog.Debugf("Transport: WebSocket send: %v", err)
					}
				case <-quit:
					return
				}
			}
		}()
		closers = append(closers, func() {
			close(quit)
			ws.Close()
		})
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, feed)
		if err != nil {
			sender.Close()
			closeAll(closers)
			return nil, err
		}
		publisher.Start()
		closers = append(closers, func() {
			publisher.Stop()
			sender.Close()
		})
	}

	return func() { closeAll(closers) }, nil
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// configureLogging applies the log level from the configuration.
func configureLogging(cfg *config.Config) {
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
		return
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
}

// executeCommand handles one-off commands that run without the
// pipeline.
func executeCommand(command string) error {
	switch command {
	case "list":
		return audio.ListDevices()
	case "devices":
		sel, err := tui.StartDevicePicker()
		if err != nil {
			return err
		}
		if !sel.Confirmed {
			return nil
		}
		fmt.Printf("Selected device %d at %.0f Hz.\n", sel.DeviceID, sel.SampleRate)
		fmt.Printf("Run with: -d %d -s %.0f\n", sel.DeviceID, sel.SampleRate)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
