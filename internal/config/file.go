package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mzyy94/glasscap/internal/postproc"
	"github.com/mzyy94/glasscap/internal/transport"
)

// Config is the startup configuration. Environment variables override
// values loaded from the file.
type Config struct {
	LogLevel   string
	DeviceName string
	ListenPort int
	DataDir    string
	ArchiveDir string
	MDNS       bool

	Transport  string // "udp" or "serial"
	UDPListen  string
	UDPBridge  string
	SerialPath string
	Serial     transport.PortOptions

	StallTimeout   time.Duration
	RetriggerEvery time.Duration
	QueueSize      int
	GallerySize    int
	MaxImageSize   int

	Defaults Settings
}

// DefaultConfig returns the built-in startup configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		DeviceName:     "Glasscap",
		ListenPort:     8080,
		MDNS:           true,
		Transport:      "udp",
		UDPListen:      fmt.Sprintf(":%d", transport.DefaultUDPPort),
		StallTimeout:   5 * time.Second,
		RetriggerEvery: 30 * time.Second,
		QueueSize:      4,
		GallerySize:    32,
		Defaults:       DefaultSettings(),
	}
}

type fileConfig struct {
	LogLevel   string `toml:"log_level"`
	DeviceName string `toml:"device_name"`
	ListenPort int    `toml:"listen_port"`
	DataDir    string `toml:"data_dir"`
	ArchiveDir string `toml:"archive_dir"`
	MDNS       bool   `toml:"mdns"`

	Transport  string                `toml:"transport"`
	UDPListen  string                `toml:"udp_listen"`
	UDPBridge  string                `toml:"udp_bridge"`
	SerialPath string                `toml:"serial_path"`
	Serial     transport.PortOptions `toml:"serial"`

	StallTimeout   string `toml:"stall_timeout"`
	RetriggerEvery string `toml:"retrigger_every"`
	QueueSize      int    `toml:"queue_size"`
	GallerySize    int    `toml:"gallery_size"`
	MaxImageSize   int    `toml:"max_image_size"`

	Capture struct {
		Rotation string `toml:"rotation"`
		Interval string `toml:"interval"`
		Quality  int    `toml:"quality"`
		Archive  bool   `toml:"archive"`
	} `toml:"capture"`
}

// LoadFile reads a TOML config file over the defaults. Keys absent from the
// file keep their default values.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("device_name") {
		cfg.DeviceName = strings.TrimSpace(raw.DeviceName)
	}
	if meta.IsDefined("listen_port") {
		cfg.ListenPort = raw.ListenPort
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("archive_dir") {
		cfg.ArchiveDir = strings.TrimSpace(raw.ArchiveDir)
	}
	if meta.IsDefined("mdns") {
		cfg.MDNS = raw.MDNS
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("udp_listen") {
		cfg.UDPListen = strings.TrimSpace(raw.UDPListen)
	}
	if meta.IsDefined("udp_bridge") {
		cfg.UDPBridge = strings.TrimSpace(raw.UDPBridge)
	}
	if meta.IsDefined("serial_path") {
		cfg.SerialPath = strings.TrimSpace(raw.SerialPath)
	}
	if meta.IsDefined("serial") {
		cfg.Serial = raw.Serial
	}

	if meta.IsDefined("stall_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StallTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse stall_timeout: %w", err)
		}
		cfg.StallTimeout = d
	}
	if meta.IsDefined("retrigger_every") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetriggerEvery))
		if err != nil {
			return Config{}, fmt.Errorf("parse retrigger_every: %w", err)
		}
		cfg.RetriggerEvery = d
	}
	if meta.IsDefined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("gallery_size") {
		cfg.GallerySize = raw.GallerySize
	}
	if meta.IsDefined("max_image_size") {
		cfg.MaxImageSize = raw.MaxImageSize
	}

	if meta.IsDefined("capture", "rotation") {
		r, err := postproc.ParseRotation(raw.Capture.Rotation)
		if err != nil {
			return Config{}, fmt.Errorf("parse capture.rotation: %w", err)
		}
		cfg.Defaults.Rotation = int(r)
	}
	if meta.IsDefined("capture", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Capture.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse capture.interval: %w", err)
		}
		cfg.Defaults.CaptureInterval = int(d / time.Second)
	}
	if meta.IsDefined("capture", "quality") {
		cfg.Defaults.Quality = raw.Capture.Quality
	}
	if meta.IsDefined("capture", "archive") {
		cfg.Defaults.Archive = raw.Capture.Archive
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	switch c.Transport {
	case "udp":
	case "serial":
		if c.SerialPath == "" {
			return fmt.Errorf("serial transport requires serial_path")
		}
		if _, err := c.Serial.Normalize(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q: expected udp or serial", c.Transport)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.StallTimeout < 0 || c.RetriggerEvery < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return c.Defaults.Validate()
}
