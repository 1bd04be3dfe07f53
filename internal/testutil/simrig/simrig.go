// Package simrig connects a vehicle gateway to an in-process simulator for
// tests above the vehicle package.
package simrig

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/link"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/sim"
	"github.com/danmuck/osdkctl/internal/vehicle"
)

const (
	AppID  = 1069806
	EncKey = "osdk-test-key"
)

// SimConfig is a simulator with short physical durations.
func SimConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.AppID = AppID
	cfg.EncKey = EncKey
	cfg.AckDelay = 2 * time.Millisecond
	cfg.TakeoffDuration = 200 * time.Millisecond
	cfg.LandingDuration = 100 * time.Millisecond
	cfg.GoHomeDuration = 100 * time.Millisecond
	cfg.MoveDuration = 100 * time.Millisecond
	cfg.MFIOSettle = 50 * time.Millisecond
	cfg.FrameInterval = 20 * time.Millisecond
	return cfg
}

// Options matches SimConfig credentials with fast polling.
func Options() vehicle.Options {
	return vehicle.Options{
		AppID:  AppID,
		EncKey: EncKey,
		Timing: session.Config{
			AckTimeout:        500 * time.Millisecond,
			FollowUpTimeout:   time.Second,
			PollInterval:      10 * time.Millisecond,
			ActionStartWindow: 500 * time.Millisecond,
			LinkOpenAttempts:  1,
		},
		StatusFrequency: 100,
	}
}

// Rig is an initialized gateway and the simulator behind it.
type Rig struct {
	Gateway *vehicle.Gateway
	Vehicle *sim.Vehicle
}

// Start runs the simulator and initializes a gateway against it. Both stop
// when the test ends.
func Start(t *testing.T, cfg sim.Config, opts vehicle.Options) *Rig {
	t.Helper()
	gwEnd, vehEnd := link.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	veh := sim.New(cfg, vehEnd)
	done := make(chan struct{})
	go func() {
		_ = veh.Run(ctx)
		close(done)
	}()
	gw, err := vehicle.InitVehicle(ctx, opts, vehicle.Openers{
		Main: func(context.Context) (link.Link, error) { return gwEnd, nil },
	})
	if err != nil {
		cancel()
		_ = vehEnd.Close()
		<-done
		t.Fatalf("init vehicle: %v", err)
	}
	t.Cleanup(func() {
		_ = gw.Close()
		_ = vehEnd.Close()
		cancel()
		<-done
	})
	return &Rig{Gateway: gw, Vehicle: veh}
}
