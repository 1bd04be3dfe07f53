package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/osdkctl/internal/sim"
	"github.com/danmuck/osdkctl/internal/vehicle"
)

const (
	LinkSerial = "serial"
	LinkSim    = "sim"
)

// EnvAdminToken overrides admin_token so the secret can stay out of the file.
const EnvAdminToken = "OSDKCTL_ADMIN_TOKEN"

// Config is the resolved node configuration.
type Config struct {
	NodeID          string
	Link            string
	Workers         int
	AdminAddr       string
	CORSOrigins     []string
	PublishInterval time.Duration
	AdminToken      string
	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string
	Vehicle         vehicle.Options
	Sim             sim.Config
}

func DefaultConfig() Config {
	return Config{
		NodeID:          "osdkctl",
		Link:            LinkSerial,
		Workers:         4,
		AdminAddr:       ":9200",
		CORSOrigins:     []string{"http://localhost:3000"},
		PublishInterval: 200 * time.Millisecond,
		Vehicle: vehicle.Options{
			Device:   "/dev/ttyUSB0",
			BaudRate: vehicle.DefaultBaudRate,
		}.WithDefaults(),
		Sim: sim.DefaultConfig(),
	}
}

type fileConfig struct {
	NodeID            string   `toml:"node_id"`
	AppID             int64    `toml:"app_id"`
	EncKey            string   `toml:"enc_key"`
	Device            string   `toml:"device"`
	DeviceACM         string   `toml:"device_acm"`
	BaudRate          int      `toml:"baud_rate"`
	Link              string   `toml:"link"`
	Workers           int      `toml:"workers"`
	AdminAddr         string   `toml:"admin_addr"`
	CORSOrigins       []string `toml:"cors_origins"`
	AdvancedSensing   bool     `toml:"advanced_sensing"`
	AckTimeout        string   `toml:"ack_timeout"`
	AckTimeoutMS      int64    `toml:"ack_timeout_ms"`
	FollowUpTimeout   string   `toml:"follow_up_timeout"`
	PollInterval      string   `toml:"poll_interval"`
	ActionStartWindow string   `toml:"action_start_window"`
	StatusPackage     int      `toml:"status_package"`
	StatusFrequency   int      `toml:"status_frequency"`
	PublishInterval   string   `toml:"publish_interval"`
	LinkOpenAttempts  int      `toml:"link_open_attempts"`
	AdminToken        string   `toml:"admin_token"`
	TLSCertFile       string   `toml:"tls_cert_file"`
	TLSKeyFile        string   `toml:"tls_key_file"`
	TLSClientCAFile   string   `toml:"tls_client_ca_file"`
	Sim               fileSim  `toml:"sim"`
}

type fileSim struct {
	AckDelay        string `toml:"ack_delay"`
	TakeoffDuration string `toml:"takeoff_duration"`
	LandingDuration string `toml:"landing_duration"`
	GoHomeDuration  string `toml:"go_home_duration"`
	MoveDuration    string `toml:"move_duration"`
	MFIOSettle      string `toml:"mfio_settle"`
	Firmware        string `toml:"firmware"`
	Stall           bool   `toml:"stall"`
}

// Load reads path over DefaultConfig; only keys present in the file override.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := apply(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode is Load for an in-memory document.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg, err := apply(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	return cfg, Validate(cfg)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	v := &cfg.Vehicle
	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("app_id") {
		if raw.AppID < 0 || raw.AppID > int64(^uint32(0)) {
			return Config{}, fmt.Errorf("app_id %d out of range", raw.AppID)
		}
		v.AppID = uint32(raw.AppID)
	}
	if meta.IsDefined("enc_key") {
		v.EncKey = strings.TrimSpace(raw.EncKey)
	}
	if meta.IsDefined("device") {
		v.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("device_acm") {
		v.DeviceACM = strings.TrimSpace(raw.DeviceACM)
	}
	if meta.IsDefined("baud_rate") {
		v.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("link") {
		cfg.Link = strings.ToLower(strings.TrimSpace(raw.Link))
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if token := strings.TrimSpace(os.Getenv(EnvAdminToken)); token != "" {
		cfg.AdminToken = token
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_client_ca_file") {
		cfg.TLSClientCAFile = strings.TrimSpace(raw.TLSClientCAFile)
	}
	if meta.IsDefined("advanced_sensing") {
		v.AdvancedSensing = raw.AdvancedSensing
	}
	if meta.IsDefined("status_package") {
		// Index 0 stays free for callers.
		if raw.StatusPackage <= 0 || raw.StatusPackage >= vehicle.MaxPackages {
			return Config{}, fmt.Errorf("status_package %d out of range 1-%d", raw.StatusPackage, vehicle.MaxPackages-1)
		}
		v.StatusPackage = uint8(raw.StatusPackage)
	}
	if meta.IsDefined("status_frequency") {
		if raw.StatusFrequency <= 0 || raw.StatusFrequency > 400 {
			return Config{}, fmt.Errorf("status_frequency %d out of range", raw.StatusFrequency)
		}
		v.StatusFrequency = uint16(raw.StatusFrequency)
	}
	if meta.IsDefined("link_open_attempts") {
		if raw.LinkOpenAttempts <= 0 {
			return Config{}, fmt.Errorf("link_open_attempts must be positive")
		}
		v.Timing.LinkOpenAttempts = uint(raw.LinkOpenAttempts)
	}
	if meta.IsDefined("ack_timeout_ms") {
		v.Timing.AckTimeout = time.Duration(raw.AckTimeoutMS) * time.Millisecond
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"ack_timeout"}, raw.AckTimeout, &v.Timing.AckTimeout},
		{[]string{"follow_up_timeout"}, raw.FollowUpTimeout, &v.Timing.FollowUpTimeout},
		{[]string{"poll_interval"}, raw.PollInterval, &v.Timing.PollInterval},
		{[]string{"action_start_window"}, raw.ActionStartWindow, &v.Timing.ActionStartWindow},
		{[]string{"publish_interval"}, raw.PublishInterval, &cfg.PublishInterval},
		{[]string{"sim", "ack_delay"}, raw.Sim.AckDelay, &cfg.Sim.AckDelay},
		{[]string{"sim", "takeoff_duration"}, raw.Sim.TakeoffDuration, &cfg.Sim.TakeoffDuration},
		{[]string{"sim", "landing_duration"}, raw.Sim.LandingDuration, &cfg.Sim.LandingDuration},
		{[]string{"sim", "go_home_duration"}, raw.Sim.GoHomeDuration, &cfg.Sim.GoHomeDuration},
		{[]string{"sim", "move_duration"}, raw.Sim.MoveDuration, &cfg.Sim.MoveDuration},
		{[]string{"sim", "mfio_settle"}, raw.Sim.MFIOSettle, &cfg.Sim.MFIOSettle},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("sim", "firmware") {
		cfg.Sim.Firmware = strings.TrimSpace(raw.Sim.Firmware)
	}
	if meta.IsDefined("sim", "stall") {
		cfg.Sim.Stall = raw.Sim.Stall
	}
	// The simulated vehicle accepts the node's own credentials.
	cfg.Sim.AppID = v.AppID
	cfg.Sim.EncKey = v.EncKey

	cfg.Vehicle = v.WithDefaults()
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	switch cfg.Link {
	case LinkSerial:
		if cfg.Vehicle.Device == "" {
			return fmt.Errorf("device is required for serial link")
		}
	case LinkSim:
	default:
		return fmt.Errorf("unknown link %q (want %s|%s)", cfg.Link, LinkSerial, LinkSim)
	}
	if cfg.Vehicle.AppID == 0 {
		return fmt.Errorf("app_id is required")
	}
	if cfg.Vehicle.EncKey == "" {
		return fmt.Errorf("enc_key is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if cfg.AdminAddr == "" {
		return fmt.Errorf("admin_addr is required")
	}
	if cfg.PublishInterval <= 0 {
		return fmt.Errorf("publish_interval must be positive")
	}
	if cfg.Vehicle.Timing.AckTimeout <= 0 {
		return fmt.Errorf("ack_timeout must be positive")
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" || cfg.TLSClientCAFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
