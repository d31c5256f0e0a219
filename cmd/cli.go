// SPDX-License-Identifier: MIT
// Package cmd parses the command line into a validated configuration.
// Precedence, lowest to highest: built-in defaults, config file,
// environment overrides, explicit flags.
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"visualizer/internal/config"
	"visualizer/pkg/build"
)

func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	// Flag values land here; the file config is overlaid in the
	// pre-run, with explicitly set flags winning.
	flagCfg := config.NewConfig()
	options := config.NewConfig()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Real-time audio visualization pipeline",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			overlayFlags(cmd, loaded, flagCfg)
			if err := loaded.Validate(); err != nil {
				return err
			}
			*options = *loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.TUIMode = true
			return nil
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "list"
			options.TUIMode = false
		},
	}
	rootCmd.AddCommand(listCmd)

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Pick a capture device and sample rate interactively",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "devices"
			options.TUIMode = false
		},
	}
	rootCmd.AddCommand(devicesCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "",
		"Path to a YAML config file")

	// Capture configuration.
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.InputDevice, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.Channels, "channels", "c", config.DefaultChannels,
		"Number of input channels (1=mono, 2=stereo)")
	rootCmd.PersistentFlags().Float64VarP(&flagCfg.Audio.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate in Hertz (Hz)")
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.FramesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Frames per capture buffer (affects latency)")
	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Audio.LowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Request low latency settings from the device")

	// Visualization configuration.
	rootCmd.PersistentFlags().StringVarP(&flagCfg.Visual.Mode, "mode", "m", config.DefaultMode,
		"Visualization mode (equalizer, fractal)")
	rootCmd.PersistentFlags().IntVar(&flagCfg.Visual.BandCount, "bands", config.DefaultBandCount,
		"Number of log-spaced frequency bands")
	rootCmd.PersistentFlags().IntVar(&flagCfg.Visual.BarCount, "bars", config.DefaultBarCount,
		"Number of equalizer bars")
	rootCmd.PersistentFlags().Float64Var(&flagCfg.Visual.DecayFactor, "decay", config.DefaultDecayFactor,
		"Per-frame fall rate in (0,1)")
	rootCmd.PersistentFlags().Float64Var(&flagCfg.Visual.Sensitivity, "sensitivity", config.DefaultSensitivity,
		"Feature-to-coefficient gain")
	rootCmd.PersistentFlags().Float64Var(&flagCfg.Visual.ReferenceLevel, "reference-level", config.DefaultReferenceLevel,
		"Full-scale normalization reference")
	rootCmd.PersistentFlags().StringVar(&flagCfg.Visual.Window, "window", config.DefaultWindow,
		"FFT window function (hann, hamming, blackman, ...)")
	rootCmd.PersistentFlags().DurationVar(&flagCfg.Visual.Settle, "settle", config.DefaultSettle,
		"Idle settle duration when capture is unavailable")

	// Recording configuration.
	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Recording.Enabled, "record", "r", false,
		"Record raw input to a WAV file while visualizing")
	rootCmd.PersistentFlags().StringVarP(&flagCfg.Recording.OutputFile, "output", "o", "",
		"Recording file name. Default is capture-DD-MM-YYYY-HHMMSS.wav")

	// Transport configuration.
	rootCmd.PersistentFlags().BoolVar(&flagCfg.Transport.WSEnabled, "ws", false,
		"Serve parameter sets over a WebSocket feed")
	rootCmd.PersistentFlags().StringVar(&flagCfg.Transport.WSPort, "ws-port", "8080",
		"WebSocket feed port")
	rootCmd.PersistentFlags().BoolVar(&flagCfg.Transport.UDPEnabled, "udp", false,
		"Send binary parameter packets over UDP")
	rootCmd.PersistentFlags().StringVar(&flagCfg.Transport.UDPTargetAddress, "udp-target", "127.0.0.1:9090",
		"Target host:port for UDP packets")

	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Debug, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	if options.Recording.Enabled && options.Recording.OutputFile == "" {
		options.Recording.OutputFile = "capture-" +
			time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	}

	return options, nil
}

// overlayFlags copies every explicitly set flag from the flag-bound
// config onto the file-loaded one.
func overlayFlags(cmd *cobra.Command, dst, flagCfg *config.Config) {
	set := cmd.Flags()
	for name, apply := range map[string]func(){
		"device":            func() { dst.Audio.InputDevice = flagCfg.Audio.InputDevice },
		"channels":          func() { dst.Audio.Channels = flagCfg.Audio.Channels },
		"sample-rate":       func() { dst.Audio.SampleRate = flagCfg.Audio.SampleRate },
		"frames-per-buffer": func() { dst.Audio.FramesPerBuffer = flagCfg.Audio.FramesPerBuffer },
		"low-latency":       func() { dst.Audio.LowLatency = flagCfg.Audio.LowLatency },
		"mode":              func() { dst.Visual.Mode = flagCfg.Visual.Mode },
		"bands":             func() { dst.Visual.BandCount = flagCfg.Visual.BandCount },
		"bars":              func() { dst.Visual.BarCount = flagCfg.Visual.BarCount },
		"decay":             func() { dst.Visual.DecayFactor = flagCfg.Visual.DecayFactor },
		"sensitivity":       func() { dst.Visual.Sensitivity = flagCfg.Visual.Sensitivity },
		"reference-level":   func() { dst.Visual.ReferenceLevel = flagCfg.Visual.ReferenceLevel },
		"window":            func() { dst.Visual.Window = flagCfg.Visual.Window },
		"settle":            func() { dst.Visual.Settle = flagCfg.Visual.Settle },
		"record":            func() { dst.Recording.Enabled = flagCfg.Recording.Enabled },
		"output":            func() { dst.Recording.OutputFile = flagCfg.Recording.OutputFile },
		"ws":                func() { dst.Transport.WSEnabled = flagCfg.Transport.WSEnabled },
		"ws-port":           func() { dst.Transport.WSPort = flagCfg.Transport.WSPort },
		"udp":               func() { dst.Transport.UDPEnabled = flagCfg.Transport.UDPEnabled },
		"udp-target":        func() { dst.Transport.UDPTargetAddress = flagCfg.Transport.UDPTargetAddress },
		"verbose":           func() { dst.Debug = flagCfg.Debug },
	} {
		if set.Changed(name) {
			apply()
		}
	}
}
