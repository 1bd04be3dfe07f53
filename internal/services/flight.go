package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/danmuck/osdkctl/internal/vehicle"
)

// DefaultMonitoredTimeout bounds the physical phase of a monitored action
// when the caller does not send timeout_ms.
const DefaultMonitoredTimeout = 30 * time.Second

func ackTimeout(gw *vehicle.Gateway) time.Duration {
	return gw.Session().Options().Timing.WithDefaults().AckTimeout
}

// Flight exposes flight control and the monitored actions.
type Flight struct {
	gw *vehicle.Gateway
}

func NewFlight(gw *vehicle.Gateway) *Flight {
	return &Flight{gw: gw}
}

func (f *Flight) Name() string { return "flight" }

// Status reports the latest flight status, display mode and height if the
// status package is streaming.
func (f *Flight) Status() (any, error) {
	out := map[string]any{}
	for _, t := range []telemetry.TopicName{
		telemetry.TopicStatusFlight,
		telemetry.TopicStatusDisplayMode,
		telemetry.TopicHeightFusion,
	} {
		if s, ok := f.gw.Latest(t); ok {
			out[t.String()] = s.Value
		}
	}
	return out, nil
}

type monitoredParams struct {
	timeoutParam
}

type moveParams struct {
	timeoutParam
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	Z            float32 `json:"z"`
	Yaw          float32 `json:"yaw"`
	PosThreshold float32 `json:"pos_threshold"`
	YawThreshold float32 `json:"yaw_threshold"`
}

type homeAltitudeParams struct {
	timeoutParam
	Altitude uint16 `json:"altitude"`
}

type avoidParams struct {
	Enable bool `json:"enable"`
}

type actionStartedParams struct {
	Mode uint8 `json:"mode"`
}

// monitored adapts an action that takes only a physical timeout.
func (f *Flight) monitored(fn func(ctx context.Context, timeout time.Duration) gateway.AckResult, fallback func() time.Duration) Action {
	return func(ctx context.Context, params json.RawMessage) (Reply, error) {
		var p monitoredParams
		if err := decode(params, &p); err != nil {
			return Reply{}, err
		}
		return ackOnly(fn(ctx, p.or(fallback())))
	}
}

func (f *Flight) Actions() map[string]Action {
	gw := f.gw
	physical := func() time.Duration { return DefaultMonitoredTimeout }
	ack := func() time.Duration { return ackTimeout(gw) }
	return map[string]Action{
		"monitored_takeoff":           f.monitored(gw.MonitoredTakeoff, physical),
		"monitored_landing":           f.monitored(gw.MonitoredLanding, physical),
		"go_home_and_confirm_landing": f.monitored(gw.GoHomeAndConfirmLanding, physical),
		"go_home":                     f.monitored(gw.GoHome, ack),
		"set_home_location":           f.monitored(gw.SetNewHomeLocation, ack),
		"set_home_altitude": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p homeAltitudeParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.SetHomeAltitude(ctx, p.Altitude, p.or(ackTimeout(gw))))
		},
		"set_avoid": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p avoidParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.SetAvoid(ctx, p.Enable))
		},
		"move_by_position_offset": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p moveParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			offset := vehicle.MoveOffset{
				X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw,
				PosThreshold: p.PosThreshold,
				YawThreshold: p.YawThreshold,
			}
			return ackOnly(gw.MoveByPositionOffset(ctx, offset, p.or(DefaultMonitoredTimeout)))
		},
		"check_action_started": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p actionStartedParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			started := gw.CheckActionStarted(ctx, p.Mode)
			res := gateway.Success(0, 0, nil, 0)
			return Reply{Result: res, Data: map[string]bool{"started": started}}, nil
		},
	}
}
