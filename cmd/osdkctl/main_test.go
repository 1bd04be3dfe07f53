package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/config"
	"github.com/danmuck/osdkctl/internal/testutil/testlog"
	"github.com/danmuck/osdkctl/internal/vehicle"
)

func TestExitCode(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("bad flag"), exitUsage},
		{fmt.Errorf("%w: open link: no device", vehicle.ErrInitFailed), exitInitFailed},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "osdkctl.toml")

	if _, err := execute(t, "config", "init", "--kind", "sim", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "config", "init", "--kind", "sim", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	out, err := execute(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "link=sim") {
		t.Fatalf("unexpected validate output: %q", out)
	}

	if _, err := execute(t, "config", "init", "--kind", "nope", filepath.Join(t.TempDir(), "x.toml")); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestRunMissingConfigIsUsageError(t *testing.T) {
	testlog.Start(t)
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || exitCode(err) != exitUsage {
		t.Fatalf("expected usage exit, got %v", err)
	}
}

func TestRunNodeInitFailure(t *testing.T) {
	testlog.Start(t)
	doc := `node_id = "osdkctl-test"
link = "serial"
app_id = 1
enc_key = "k"
device = "/dev/osdkctl-missing-device"
link_open_attempts = 1
`
	cfg, err := config.Decode(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	err = runNode(context.Background(), cfg)
	if exitCode(err) != exitInitFailed {
		t.Fatalf("expected init failure exit, got %v", err)
	}
}

func TestRunNodeSimCleanShutdown(t *testing.T) {
	testlog.Start(t)
	tpl, err := config.Template(config.LinkSim)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	tpl = strings.Replace(tpl, `admin_addr = ":9200"`, `admin_addr = "127.0.0.1:0"`, 1)
	path := filepath.Join(t.TempDir(), "sim.toml")
	if err := os.WriteFile(path, []byte(tpl), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- runNode(ctx, cfg) }()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}
}

func TestLinkOverrideIsValidated(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "osdkctl.toml")
	if err := config.WriteTemplate(path, config.LinkSim, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadConfig(path, "carrier-pigeon"); err == nil {
		t.Fatalf("expected invalid link override to fail")
	}
	cfg, err := loadConfig(path, config.LinkSim)
	if err != nil || cfg.Link != config.LinkSim {
		t.Fatalf("override: %v %+v", err, cfg.Link)
	}
}
