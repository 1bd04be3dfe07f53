package services

import (
	"context"
	"encoding/json"

	"github.com/danmuck/osdkctl/internal/vehicle"
)

// cameraParams covers every camera action; each action reads what it needs.
type cameraParams struct {
	PayloadIndex uint8   `json:"payload_index"`
	Value        uint32  `json:"value"`
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	Multiplier   uint8   `json:"multiplier"`
	Direction    uint8   `json:"direction"`
	Speed        uint8   `json:"speed"`
	Count        uint8   `json:"count"`
	Interval     uint16  `json:"interval_seconds"`
}

// Camera exposes the camera manager of every payload mount.
type Camera struct {
	gw *vehicle.Gateway
}

func NewCamera(gw *vehicle.Gateway) *Camera {
	return &Camera{gw: gw}
}

func (c *Camera) Name() string { return "camera" }

func (c *Camera) Status() (any, error) {
	return map[string]any{"mounts": []uint8{0, 1, 2}}, nil
}

// cameraCall decodes and range-checks params before running fn.
func (c *Camera) cameraCall(fn func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply) Action {
	return func(ctx context.Context, params json.RawMessage) (Reply, error) {
		var p cameraParams
		if err := decode(params, &p); err != nil {
			return Reply{}, err
		}
		if p.PayloadIndex > uint8(vehicle.PayloadIndex2) {
			return Reply{}, badParams("payload_index %d out of range", p.PayloadIndex)
		}
		return fn(ctx, vehicle.PayloadIndex(p.PayloadIndex), p), nil
	}
}

func (c *Camera) Actions() map[string]Action {
	gw := c.gw
	return map[string]Action{
		"set_ev": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetEV(ctx, idx, vehicle.ExposureCompensation(p.Value))}
		}),
		"set_exposure_mode": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetExposureMode(ctx, idx, vehicle.ExposureMode(p.Value))}
		}),
		"set_iso": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetISO(ctx, idx, vehicle.ISO(p.Value))}
		}),
		"set_shutter_speed": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetShutterSpeed(ctx, idx, vehicle.ShutterSpeed(p.Value))}
		}),
		"set_aperture": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetAperture(ctx, idx, vehicle.Aperture(p.Value))}
		}),
		"set_focus_point": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetFocusPoint(ctx, idx, p.X, p.Y)}
		}),
		"set_tap_zoom_point": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.SetTapZoomPoint(ctx, idx, p.Multiplier, p.X, p.Y)}
		}),
		"start_zoom": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.StartZoom(ctx, idx, p.Direction, p.Speed)}
		}),
		"stop_zoom": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, _ cameraParams) Reply {
			return Reply{Result: gw.StopZoom(ctx, idx)}
		}),
		"shoot_single": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, _ cameraParams) Reply {
			return Reply{Result: gw.StartShootSinglePhoto(ctx, idx)}
		}),
		"shoot_burst": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.StartShootBurstPhoto(ctx, idx, vehicle.PhotoBurstCount(p.Count))}
		}),
		"shoot_aeb": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			return Reply{Result: gw.StartShootAEBPhoto(ctx, idx, vehicle.PhotoAEBCount(p.Count))}
		}),
		"shoot_interval": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, p cameraParams) Reply {
			data := vehicle.PhotoIntervalData{PhotoCount: p.Count, IntervalSeconds: p.Interval}
			return Reply{Result: gw.StartShootIntervalPhoto(ctx, idx, data)}
		}),
		"shoot_stop": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, _ cameraParams) Reply {
			return Reply{Result: gw.ShootPhotoStop(ctx, idx)}
		}),
		"start_record": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, _ cameraParams) Reply {
			return Reply{Result: gw.StartRecordVideo(ctx, idx)}
		}),
		"stop_record": c.cameraCall(func(ctx context.Context, idx vehicle.PayloadIndex, _ cameraParams) Reply {
			return Reply{Result: gw.StopRecordVideo(ctx, idx)}
		}),
	}
}
