package sim

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/osdkctl/internal/link"
	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Ack codes the simulated flight controller answers with.
const (
	CodeOK           uint32 = 0
	CodeRejected     uint32 = 1
	CodeNotActivated uint32 = 2
	CodeBadKey       uint32 = 3
	CodeIndexBusy    uint32 = 4
	CodeIndexUnknown uint32 = 5
	CodeBadState     uint32 = 6
	CodeUnsupported  uint32 = 7
)

const maxPackages = 5

type pkg struct {
	topics []telemetry.TopicName
	freq   uint16
	stop   chan struct{}
}

type state struct {
	flight  uint8
	display uint8
	height  float32
	gps     telemetry.GPSFused
	yaw     float64
	battery telemetry.BatteryInfo
	gimbal  telemetry.Vector3f
}

// Vehicle answers requests arriving on its link.
type Vehicle struct {
	cfg  Config
	link link.Link

	mu        sync.Mutex
	activated bool
	packages  map[uint8]*pkg
	st        state
	// epoch invalidates scheduled transitions when a newer action starts.
	epoch     uint64
	mfio      map[uint8]uint32
	streaming map[uint8]bool
	frameSeq  uint32

	ctx context.Context
	wg  sync.WaitGroup
}

func New(cfg Config, l link.Link) *Vehicle {
	d := DefaultConfig()
	if cfg.Firmware == "" {
		cfg.Firmware = d.Firmware
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = d.FrameInterval
	}
	if cfg.Home == (telemetry.GPSFused{}) {
		cfg.Home = d.Home
	}
	return &Vehicle{
		cfg:       cfg,
		link:      l,
		packages:  make(map[uint8]*pkg),
		mfio:      make(map[uint8]uint32),
		streaming: make(map[uint8]bool),
		st: state{
			flight:  telemetry.FlightStatusStopped,
			display: telemetry.ModePGPS,
			gps:     cfg.Home,
			battery: telemetry.BatteryInfo{CapacityMAh: 4500, VoltageMV: 15800, CurrentMA: -900, Percentage: 96},
		},
	}
}

// Run serves requests until ctx ends or the link closes.
func (v *Vehicle) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	v.ctx = ctx
	defer func() {
		cancel()
		v.wg.Wait()
	}()

	v.wg.Add(1)
	go v.streamFrames()

	log.Info().Str("firmware", v.cfg.Firmware).Msg("sim.Vehicle.Run started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-v.link.Frames():
			if !ok {
				return nil
			}
			if f.IsCorrupt() {
				v.nack(f, "checksum mismatch")
				continue
			}
			if f.IsResponse() {
				continue
			}
			v.wg.Add(1)
			go func() {
				defer v.wg.Done()
				v.handle(f)
			}()
		}
	}
}

// Snapshot exposes the simulated flight state to tests.
func (v *Vehicle) Snapshot() (flight, display uint8, height float32, gps telemetry.GPSFused) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.flight, v.st.display, v.st.height, v.st.gps
}

// MFIOValue reports the last value written to channel.
func (v *Vehicle) MFIOValue(channel uint8) (uint32, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.mfio[channel]
	return val, ok
}

func (v *Vehicle) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-v.ctx.Done():
		return false
	}
}

func (v *Vehicle) handle(f frame.Frame) {
	if !v.sleep(v.cfg.AckDelay) {
		return
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		v.nack(f, err.Error())
		return
	}
	if err := schema.Validate(f.Header.Kind, fields); err != nil {
		v.reply(f, f.Header.Kind, CodeRejected, err.Error())
		return
	}
	if f.Header.Kind == schema.KindActivate {
		v.activate(f, fields)
		return
	}
	v.mu.Lock()
	activated := v.activated
	v.mu.Unlock()
	if !activated {
		v.reply(f, f.Header.Kind, CodeNotActivated, "vehicle not activated")
		return
	}

	switch f.Header.Kind {
	case schema.KindSubscribe:
		v.subscribe(f, fields)
	case schema.KindUnsubscribe:
		v.unsubscribe(f, fields)
	case schema.KindFlightAction:
		v.flightAction(f, fields)
	case schema.KindSetHome:
		v.mu.Lock()
		v.cfg.Home = v.st.gps
		v.mu.Unlock()
		v.reply(f, f.Header.Kind, CodeOK, "")
	case schema.KindSetHomeAltitude, schema.KindSetAvoid:
		v.reply(f, f.Header.Kind, CodeOK, "")
	case schema.KindPositionOffset:
		v.positionOffset(f, fields)
	case schema.KindCamera:
		v.camera(f, fields)
	case schema.KindGimbalRotate, schema.KindGimbalReset, schema.KindGimbalQuery:
		v.gimbal(f, fields)
	case schema.KindMFIOOutput, schema.KindMFIOInput, schema.KindMFIOStop:
		v.mfioRequest(f, fields)
	case schema.KindStreamStart, schema.KindStreamStop:
		v.stream(f, fields)
	default:
		v.reply(f, f.Header.Kind, CodeUnsupported, "unsupported kind")
	}
}

func (v *Vehicle) activate(f frame.Frame, fields []tlv.Field) {
	appID, _ := tlv.GetU32(fields, schema.FieldAppID)
	key, _ := tlv.GetString(fields, schema.FieldActivationKey)
	if appID != v.cfg.AppID || key != ActivationKey(v.cfg.EncKey) {
		log.Warn().Uint32("app_id", appID).Msg("sim.Vehicle activation rejected")
		v.reply(f, f.Header.Kind, CodeBadKey, "activation key mismatch")
		return
	}
	v.mu.Lock()
	v.activated = true
	v.mu.Unlock()
	v.reply(f, f.Header.Kind, CodeOK, "", tlv.String(schema.FieldFirmware, v.cfg.Firmware))
}

func (v *Vehicle) reply(req frame.Frame, kind uint32, code uint32, reason string, extra ...tlv.Field) {
	fields := []tlv.Field{tlv.U32(schema.FieldAckCode, code)}
	if reason != "" {
		fields = append(fields, tlv.String(schema.FieldAckReason, reason))
	}
	fields = append(fields, extra...)
	v.send(frame.Frame{
		Header:  frame.Header{RequestID: req.Header.RequestID, Kind: kind, Flags: frame.FlagResponse},
		Payload: tlv.EncodeFields(fields),
	})
}

func (v *Vehicle) nack(req frame.Frame, reason string) {
	v.send(frame.Frame{
		Header: frame.Header{RequestID: req.Header.RequestID, Kind: req.Header.Kind, Flags: frame.FlagResponse | frame.FlagNack},
		Payload: tlv.EncodeFields([]tlv.Field{
			tlv.U32(schema.FieldAckCode, CodeRejected),
			tlv.String(schema.FieldAckReason, reason),
		}),
	})
}

func (v *Vehicle) send(f frame.Frame) {
	if err := v.link.Send(f); err != nil {
		log.Debug().Err(err).Str("kind", schema.KindName(f.Header.Kind)).Msg("sim.Vehicle send failed")
	}
}
