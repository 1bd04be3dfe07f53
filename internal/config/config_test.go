package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/testutil/testlog"
)

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{LinkSerial, LinkSim} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if cfg.Link != kind || cfg.Workers != 4 {
			t.Fatalf("unexpected %s config: %+v", kind, cfg)
		}
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode(`
app_id = 42
enc_key = "k"
link = "SIM"
ack_timeout = "250ms"
status_package = 3

[sim]
takeoff_duration = "500ms"
stall = true
`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	def := DefaultConfig()
	if cfg.Link != LinkSim || cfg.Vehicle.AppID != 42 || cfg.Vehicle.EncKey != "k" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Vehicle.Timing.AckTimeout != 250*time.Millisecond {
		t.Fatalf("ack timeout %v", cfg.Vehicle.Timing.AckTimeout)
	}
	if cfg.Vehicle.Timing.PollInterval != def.Vehicle.Timing.PollInterval {
		t.Fatalf("poll interval changed without key: %v", cfg.Vehicle.Timing.PollInterval)
	}
	if cfg.Vehicle.StatusPackage != 3 || cfg.Workers != def.Workers || cfg.AdminAddr != def.AdminAddr {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Sim.TakeoffDuration != 500*time.Millisecond || !cfg.Sim.Stall {
		t.Fatalf("sim overrides lost: %+v", cfg.Sim)
	}
	if cfg.Sim.AppID != 42 || cfg.Sim.EncKey != "k" {
		t.Fatalf("sim credentials should follow the node's")
	}
}

func TestAckTimeoutMS(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode("app_id = 1\nenc_key = \"k\"\nack_timeout_ms = 1500\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Vehicle.Timing.AckTimeout != 1500*time.Millisecond {
		t.Fatalf("ack timeout %v", cfg.Vehicle.Timing.AckTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing app":     "enc_key = \"k\"\n",
		"bad link":        "app_id = 1\nenc_key = \"k\"\nlink = \"udp\"\n",
		"bad duration":    "app_id = 1\nenc_key = \"k\"\npoll_interval = \"soon\"\n",
		"status range":    "app_id = 1\nenc_key = \"k\"\nstatus_package = 5\n",
		"no workers":      "app_id = 1\nenc_key = \"k\"\nworkers = 0\n",
		"app id overflow": "app_id = 5000000000\nenc_key = \"k\"\n",
		"not toml":        "app_id = = 1\n",
		"tls half set":    "app_id = 1\nenc_key = \"k\"\ntls_cert_file = \"node.crt\"\n",
	}
	for name, doc := range cases {
		if _, err := Decode(doc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestAdminTokenFromEnv(t *testing.T) {
	testlog.Start(t)
	doc := "app_id = 1\nenc_key = \"k\"\nadmin_token = \"from-file\"\n"
	cfg, err := Decode(doc)
	if err != nil || cfg.AdminToken != "from-file" {
		t.Fatalf("file token: %v %q", err, cfg.AdminToken)
	}
	t.Setenv(EnvAdminToken, "from-env")
	cfg, err = Decode(doc)
	if err != nil || cfg.AdminToken != "from-env" {
		t.Fatalf("env token: %v %q", err, cfg.AdminToken)
	}
}
