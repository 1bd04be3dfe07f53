package services

import (
	"context"
	"encoding/json"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/danmuck/osdkctl/internal/vehicle"
)

// Gimbal exposes the gimbal manager.
type Gimbal struct {
	gw *vehicle.Gateway
}

func NewGimbal(gw *vehicle.Gateway) *Gimbal { return &Gimbal{gw: gw} }

func (g *Gimbal) Name() string { return "gimbal" }

func (g *Gimbal) Status() (any, error) {
	if s, ok := g.gw.Latest(telemetry.TopicGimbalAngles); ok {
		return map[string]any{"angles": s.Value}, nil
	}
	return map[string]any{}, nil
}

type gimbalParams struct {
	PayloadIndex uint8   `json:"payload_index"`
	Pitch        float32 `json:"pitch"`
	Roll         float32 `json:"roll"`
	Yaw          float32 `json:"yaw"`
	Time         float32 `json:"time"`
	Relative     bool    `json:"relative"`
}

func (p gimbalParams) index() (vehicle.PayloadIndex, error) {
	if p.PayloadIndex > uint8(vehicle.PayloadIndex2) {
		return 0, badParams("payload_index %d out of range", p.PayloadIndex)
	}
	return vehicle.PayloadIndex(p.PayloadIndex), nil
}

func (g *Gimbal) Actions() map[string]Action {
	gw := g.gw
	return map[string]Action{
		"get": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p gimbalParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			idx, err := p.index()
			if err != nil {
				return Reply{}, err
			}
			data, res := gw.GetGimbalData(ctx, idx)
			if !res.OK() {
				return Reply{Result: res}, nil
			}
			return Reply{Result: res, Data: data}, nil
		},
		"rotate": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p gimbalParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			idx, err := p.index()
			if err != nil {
				return Reply{}, err
			}
			rot := vehicle.GimbalRotation{Pitch: p.Pitch, Roll: p.Roll, Yaw: p.Yaw, Time: p.Time, Mode: vehicle.GimbalAbsolute}
			if p.Relative {
				rot.Mode = vehicle.GimbalRelative
			}
			return ackOnly(gw.RotateGimbal(ctx, idx, rot))
		},
		"reset": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p gimbalParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			idx, err := p.index()
			if err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.ResetGimbal(ctx, idx))
		},
	}
}

// MFIO exposes the multi-function IO channels.
type MFIO struct {
	gw *vehicle.Gateway
}

func NewMFIO(gw *vehicle.Gateway) *MFIO { return &MFIO{gw: gw} }

func (m *MFIO) Name() string { return "mfio" }

func (m *MFIO) Status() (any, error) {
	return map[string]any{"modes": map[string]uint8{
		"pwm":      schema.MFIOModePWM,
		"gpio_out": schema.MFIOModeGPIOOut,
		"gpio_in":  schema.MFIOModeGPIOIn,
		"adc":      schema.MFIOModeADC,
	}}, nil
}

type mfioParams struct {
	Mode     uint8  `json:"mode"`
	Channel  uint8  `json:"channel"`
	OnTimeUS uint32 `json:"on_time_us"`
	Freq     uint16 `json:"freq"`
	Block    bool   `json:"block"`
	Value    uint32 `json:"value"`
}

func (p mfioParams) check() error {
	if p.Mode > schema.MFIOModeADC {
		return badParams("mfio mode %d unknown", p.Mode)
	}
	return nil
}

func (m *MFIO) Actions() map[string]Action {
	gw := m.gw
	parse := func(params json.RawMessage) (mfioParams, error) {
		var p mfioParams
		if err := decode(params, &p); err != nil {
			return p, err
		}
		return p, p.check()
	}
	return map[string]Action{
		"output": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			p, err := parse(params)
			if err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.OutputMFIO(ctx, p.Mode, p.Channel, p.OnTimeUS, p.Freq, p.Block, p.Value))
		},
		"input": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			p, err := parse(params)
			if err != nil {
				return Reply{}, err
			}
			value, res := gw.InputMFIO(ctx, p.Mode, p.Channel, p.Block)
			if !res.OK() {
				return Reply{Result: res}, nil
			}
			return Reply{Result: res, Data: map[string]uint32{"value": value}}, nil
		},
		"stop": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			p, err := parse(params)
			if err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.StopMFIO(ctx, p.Mode, p.Channel))
		},
	}
}

// Subscription exposes telemetry package setup and teardown.
type Subscription struct {
	gw *vehicle.Gateway
}

func NewSubscription(gw *vehicle.Gateway) *Subscription { return &Subscription{gw: gw} }

func (s *Subscription) Name() string { return "subscription" }

func (s *Subscription) Status() (any, error) {
	return s.gw.Packages(), nil
}

type subscribeParams struct {
	timeoutParam
	Index     uint8    `json:"index"`
	Frequency uint16   `json:"frequency"`
	Topics    []string `json:"topics"`
}

// topicNames resolves catalog labels, keeping their order.
func topicNames(labels []string) ([]telemetry.TopicName, error) {
	out := make([]telemetry.TopicName, 0, len(labels))
	for _, label := range labels {
		name, ok := telemetry.ByLabel(label)
		if !ok {
			return nil, badParams("unknown topic %q", label)
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *Subscription) Actions() map[string]Action {
	gw := s.gw
	return map[string]Action{
		"setup": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p subscribeParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			topics, err := topicNames(p.Topics)
			if err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.SetUpSubscription(ctx, p.Index, p.Frequency, topics, p.or(ackTimeout(gw))))
		},
		"teardown": func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p subscribeParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			return ackOnly(gw.TeardownSubscription(ctx, p.Index, p.or(ackTimeout(gw))))
		},
	}
}

// Sensing exposes the advanced sensing camera streams and frame buffer.
type Sensing struct {
	gw *vehicle.Gateway
}

func NewSensing(gw *vehicle.Gateway) *Sensing { return &Sensing{gw: gw} }

func (s *Sensing) Name() string { return "sensing" }

func (s *Sensing) Status() (any, error) {
	img, ok := s.gw.CameraImage()
	out := map[string]any{
		"enabled":   s.gw.Session().Options().AdvancedSensing,
		"has_image": ok,
		"raw_bytes": len(s.gw.CameraRawData()),
	}
	if ok {
		out["last_image_at"] = img.ReceivedAt
	}
	return out, nil
}

type streamParams struct {
	H264 bool  `json:"h264"`
	View uint8 `json:"view"`
}

func (s *Sensing) Actions() map[string]Action {
	gw := s.gw
	stream := func(fn func(context.Context, bool, uint8) gateway.AckResult) Action {
		return func(ctx context.Context, params json.RawMessage) (Reply, error) {
			var p streamParams
			if err := decode(params, &p); err != nil {
				return Reply{}, err
			}
			if p.View > vehicle.ViewVGADown {
				return Reply{}, badParams("view %d unknown", p.View)
			}
			return ackOnly(fn(ctx, p.H264, p.View))
		}
	}
	return map[string]Action{
		"start_stream": stream(gw.StartStream),
		"stop_stream":  stream(gw.StopStream),
		"image": func(ctx context.Context, _ json.RawMessage) (Reply, error) {
			img, ok := gw.CameraImage()
			if !ok {
				return Reply{Result: gateway.Rejected(0, 0, gateway.CodeIndexNotActive, "no image received")}, nil
			}
			return Reply{Result: gateway.Success(0, 0, nil, 0), Data: img}, nil
		},
		"raw": func(ctx context.Context, _ json.RawMessage) (Reply, error) {
			return Reply{Result: gateway.Success(0, 0, nil, 0), Data: map[string][]byte{"data": gw.CameraRawData()}}, nil
		},
	}
}

// Register adds every vehicle service backed by gw.
func Register(reg *ServiceRegistry, gw *vehicle.Gateway) {
	reg.Register(NewCamera(gw))
	reg.Register(NewGimbal(gw))
	reg.Register(NewFlight(gw))
	reg.Register(NewMFIO(gw))
	reg.Register(NewSubscription(gw))
	reg.Register(NewSensing(gw))
}
