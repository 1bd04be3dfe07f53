// Package sim is an in-process vehicle that answers the gateway protocol on
// the far end of a link. It backs the "sim" link mode and the vehicle tests.
package sim

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/danmuck/osdkctl/internal/telemetry"
)

// Config tunes the simulated vehicle.
type Config struct {
	AppID    uint32
	EncKey   string
	Firmware string

	AckDelay        time.Duration
	TakeoffDuration time.Duration
	LandingDuration time.Duration
	GoHomeDuration  time.Duration
	MoveDuration    time.Duration
	// MFIOSettle delays the status frame of a blocking MFIO call.
	MFIOSettle    time.Duration
	FrameInterval time.Duration

	// Stall keeps physical actions from ever reaching their final state.
	Stall bool

	Home telemetry.GPSFused
}

func DefaultConfig() Config {
	return Config{
		Firmware:        "3.9.0.0",
		AckDelay:        20 * time.Millisecond,
		TakeoffDuration: 2 * time.Second,
		LandingDuration: 2 * time.Second,
		GoHomeDuration:  2 * time.Second,
		MoveDuration:    time.Second,
		MFIOSettle:      200 * time.Millisecond,
		FrameInterval:   100 * time.Millisecond,
		Home: telemetry.GPSFused{
			Longitude:         telemetry.Deg2Rad(113.9532),
			Latitude:          telemetry.Deg2Rad(22.5431),
			VisibleSatellites: 16,
		},
	}
}

// ActivationKey derives the key sent in an activation request from the app key.
func ActivationKey(encKey string) string {
	sum := sha256.Sum256([]byte(encKey))
	return hex.EncodeToString(sum[:])
}
