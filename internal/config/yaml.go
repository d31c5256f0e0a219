// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration, loaded from
// YAML with optional environment overrides and CLI flag overlays.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug mode (verbose logging).
	LogLevel  string          `yaml:"log_level"`         // Logging level ("debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // One-off command instead of running the pipeline (e.g. "list").
	TUIMode   bool            `yaml:"-"`                 // Run the terminal renderer (set by the CLI, not the file).
	Audio     AudioConfig     `yaml:"audio"`             // Capture settings.
	Visual    VisualConfig    `yaml:"visual"`            // Feature extraction and parameter mapping settings.
	Recording RecordingConfig `yaml:"recording"`         // Raw capture tap settings.
	Transport TransportConfig `yaml:"transport"`         // Renderer-facing push transports.
}

// AudioConfig holds settings for the capture source.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture buffer (latency vs FFT resolution).
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from the device.
	Channels        int     `yaml:"channels"`          // Input channels captured (mono is downmixed for analysis).
}

// VisualConfig holds the recognized visualization options: band count,
// bar count, decay factor, sensitivity and reference level, plus the
// active mode and FFT window.
type VisualConfig struct {
	Mode           string        `yaml:"mode"`            // "equalizer" or "fractal".
	BandCount      int           `yaml:"band_count"`      // Log-spaced frequency bands (> 0).
	BarCount       int           `yaml:"bar_count"`       // Equalizer bars (> 0).
	DecayFactor    float64       `yaml:"decay_factor"`    // Per-frame fall rate, in (0,1).
	Sensitivity    float64       `yaml:"sensitivity"`     // Feature-to-coefficient gain (> 0).
	ReferenceLevel float64       `yaml:"reference_level"` // Full-scale normalization reference (> 0).
	Window         string        `yaml:"window"`          // FFT window function name.
	Settle         time.Duration `yaml:"settle"`          // Idle settle duration when capture is unavailable.
}

// RecordingConfig holds settings for the optional raw-capture WAV tap,
// used for offline tuning of band and decay constants.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record raw input while visualizing.
	OutputFile string `yaml:"output_file"` // Target WAV path ("" = auto-generated).
	BitDepth   int    `yaml:"bit_depth"`   // Bit depth for recorded audio (16, 24, 32).
}

// TransportConfig holds settings for pushing the latest parameter sets
// to out-of-process renderers.
type TransportConfig struct {
	WSEnabled        bool          `yaml:"ws_enabled"`         // Serve parameter sets over WebSocket.
	WSPort           string        `yaml:"ws_port"`            // WebSocket listen port.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send binary parameter packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target "host:port" for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			Channels:        DefaultChannels,
		},
		Visual: VisualConfig{
			Mode:           DefaultMode,
			BandCount:      DefaultBandCount,
			BarCount:       DefaultBarCount,
			DecayFactor:    DefaultDecayFactor,
			Sensitivity:    DefaultSensitivity,
			ReferenceLevel: DefaultReferenceLevel,
			Window:         DefaultWindow,
			Settle:         DefaultSettle,
		},
		Recording: RecordingConfig{
			Enabled:    false,
			OutputFile: "",
			BitDepth:   32,
		},
		Transport: TransportConfig{
			WSEnabled:        false,
			WSPort:           "8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // ~30Hz
		},
	}
}

// LoadConfig loads configuration from a YAML file. If path is empty it
// searches the default location ("config.yaml") and falls back to the
// built-in defaults when no file is found. Environment overrides are
// applied after the file, and the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		} else {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configured values against the documented ranges.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]",
			c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer %d outside (0, %d]",
			c.Audio.FramesPerBuffer, MaxBufferFrames)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if c.Visual.BandCount <= 0 || c.Visual.BandCount > MaxBandCount {
		return fmt.Errorf("visual.band_count %d outside (0, %d]", c.Visual.BandCount, MaxBandCount)
	}
	if c.Visual.BarCount <= 0 || c.Visual.BarCount > MaxBandCount {
		return fmt.Errorf("visual.bar_count %d outside (0, %d]", c.Visual.BarCount, MaxBandCount)
	}
	if c.Visual.DecayFactor <= 0 || c.Visual.DecayFactor >= 1 {
		return fmt.Errorf("visual.decay_factor %f outside (0, 1)", c.Visual.DecayFactor)
	}
	if c.Visual.Sensitivity <= 0 {
		return fmt.Errorf("visual.sensitivity %f must be positive", c.Visual.Sensitivity)
	}
	if c.Visual.ReferenceLevel <= 0 {
		return fmt.Errorf("visual.reference_level %f must be positive", c.Visual.ReferenceLevel)
	}
	if c.Visual.Mode != "equalizer" && c.Visual.Mode != "fractal" {
		return fmt.Errorf("visual.mode %q must be \"equalizer\" or \"fractal\"", c.Visual.Mode)
	}
	if c.Visual.Settle <= 0 {
		return fmt.Errorf("visual.settle %s must be positive", c.Visual.Settle)
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("transport.udp_target_address must be set when UDP is enabled")
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	return nil
}

// applyEnvOverrides applies VIZ_-prefixed environment variables on top
// of whatever was loaded from file or defaults.
func (cfg *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("VIZ_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	if val, ok := os.LookupEnv("VIZ_MODE"); ok {
		cfg.Visual.Mode = val
	}
	if val, ok := os.LookupEnv("VIZ_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	if val, ok := os.LookupEnv("VIZ_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	if val, ok := os.LookupEnv("VIZ_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
		}
	}
}
