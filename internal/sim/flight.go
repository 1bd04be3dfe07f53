package sim

import (
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/rs/zerolog/log"
)

func (v *Vehicle) subscribe(f frame.Frame, fields []tlv.Field) {
	index, _ := tlv.GetU8(fields, schema.FieldPackageIndex)
	freq, _ := tlv.GetU16(fields, schema.FieldFrequency)
	raw, _ := tlv.GetBytes(fields, schema.FieldTopics)
	topics, err := telemetry.DecodeTopicList(raw)
	switch {
	case err != nil:
		v.reply(f, f.Header.Kind, CodeRejected, err.Error())
		return
	case index >= maxPackages:
		v.reply(f, f.Header.Kind, CodeRejected, "package index out of range")
		return
	case freq == 0 || len(topics) == 0:
		v.reply(f, f.Header.Kind, CodeRejected, "empty package")
		return
	}

	v.mu.Lock()
	if _, busy := v.packages[index]; busy {
		v.mu.Unlock()
		v.reply(f, f.Header.Kind, CodeIndexBusy, "package index in use")
		return
	}
	p := &pkg{topics: topics, freq: freq, stop: make(chan struct{})}
	v.packages[index] = p
	v.mu.Unlock()

	v.reply(f, f.Header.Kind, CodeOK, "")
	v.wg.Add(1)
	go v.publish(index, p)
}

func (v *Vehicle) unsubscribe(f frame.Frame, fields []tlv.Field) {
	index, _ := tlv.GetU8(fields, schema.FieldPackageIndex)
	v.mu.Lock()
	p, ok := v.packages[index]
	if ok {
		delete(v.packages, index)
		close(p.stop)
	}
	v.mu.Unlock()
	if !ok {
		v.reply(f, f.Header.Kind, CodeIndexUnknown, "package index not active")
		return
	}
	v.reply(f, f.Header.Kind, CodeOK, "")
}

func (v *Vehicle) publish(index uint8, p *pkg) {
	defer v.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(p.freq))
	defer ticker.Stop()
	var seq uint32
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		}
		values := v.sample(p.topics)
		data, err := telemetry.EncodePackage(values)
		if err != nil {
			log.Error().Err(err).Uint8("package", index).Msg("sim.Vehicle encode telemetry")
			return
		}
		seq++
		v.send(frame.Frame{
			Header: frame.Header{Kind: schema.KindTelemetry},
			Payload: tlv.EncodeFields([]tlv.Field{
				tlv.U8(schema.FieldPackageIndex, index),
				tlv.Bytes(schema.FieldTelemetryData, data),
				tlv.U32(schema.FieldTelemetrySeq, seq),
			}),
		})
	}
}

func (v *Vehicle) sample(topics []telemetry.TopicName) []telemetry.TopicValue {
	v.mu.Lock()
	st := v.st
	v.mu.Unlock()
	gps := st.gps
	gps.Altitude = st.height
	out := make([]telemetry.TopicValue, 0, len(topics))
	for _, t := range topics {
		var val any
		switch t {
		case telemetry.TopicQuaternion:
			val = telemetry.QuaternionFromYaw(telemetry.Deg2Rad(st.yaw))
		case telemetry.TopicVelocity:
			val = telemetry.Vector3f{}
		case telemetry.TopicGPSFused:
			val = gps
		case telemetry.TopicHeightFusion:
			val = st.height
		case telemetry.TopicStatusFlight:
			val = st.flight
		case telemetry.TopicStatusDisplayMode:
			val = st.display
		case telemetry.TopicBatteryInfo:
			val = st.battery
		case telemetry.TopicGimbalAngles:
			val = st.gimbal
		}
		out = append(out, telemetry.TopicValue{Topic: t, Value: val})
	}
	return out
}

// schedule applies fn after d unless a newer action has started since.
func (v *Vehicle) schedule(d time.Duration, epoch uint64, fn func(st *state)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if !v.sleep(d) {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.epoch == epoch {
			fn(&v.st)
		}
	}()
}

func (v *Vehicle) flightAction(f frame.Frame, fields []tlv.Field) {
	action, _ := tlv.GetU8(fields, schema.FieldFlightAction)

	v.mu.Lock()
	st := &v.st
	var reason string
	switch action {
	case schema.ActionTakeoff:
		if st.flight == telemetry.FlightStatusInAir {
			reason = "already airborne"
		}
	case schema.ActionLanding, schema.ActionGoHome:
		if st.flight != telemetry.FlightStatusInAir {
			reason = "not airborne"
		}
	case schema.ActionConfirmLanding:
		if st.display != telemetry.ModeAutoLanding && st.display != telemetry.ModeForceAutoLanding {
			reason = "not landing"
		}
	default:
		v.mu.Unlock()
		v.reply(f, f.Header.Kind, CodeUnsupported, "unknown flight action")
		return
	}
	if reason != "" {
		v.mu.Unlock()
		v.reply(f, f.Header.Kind, CodeBadState, reason)
		return
	}

	v.epoch++
	epoch := v.epoch
	switch action {
	case schema.ActionTakeoff:
		st.flight = telemetry.FlightStatusOnGround
		st.display = telemetry.ModeEngineStart
		v.schedule(v.cfg.TakeoffDuration/5, epoch, func(st *state) {
			st.flight = telemetry.FlightStatusInAir
			st.display = telemetry.ModeAutoTakeoff
			st.height = 0.3
		})
		if !v.cfg.Stall {
			v.schedule(v.cfg.TakeoffDuration, epoch, func(st *state) {
				st.display = telemetry.ModePGPS
				st.height = 1.2
			})
		}
	case schema.ActionLanding:
		st.display = telemetry.ModeAutoLanding
		v.land(epoch)
	case schema.ActionGoHome:
		st.display = telemetry.ModeNaviGoHome
		if !v.cfg.Stall {
			home := v.cfg.Home
			v.schedule(v.cfg.GoHomeDuration, epoch, func(st *state) {
				st.gps.Longitude = home.Longitude
				st.gps.Latitude = home.Latitude
				st.display = telemetry.ModeAutoLanding
			})
		}
	case schema.ActionConfirmLanding:
		v.land(epoch)
	}
	v.mu.Unlock()

	log.Debug().Uint8("action", action).Msg("sim.Vehicle flight action")
	v.reply(f, f.Header.Kind, CodeOK, "")
}

// land must be called with v.mu held.
func (v *Vehicle) land(epoch uint64) {
	if v.cfg.Stall {
		return
	}
	v.schedule(v.cfg.LandingDuration, epoch, func(st *state) {
		st.flight = telemetry.FlightStatusOnGround
		st.display = telemetry.ModePGPS
		st.height = 0
	})
}

func (v *Vehicle) positionOffset(f frame.Frame, fields []tlv.Field) {
	x, _ := tlv.GetF32(fields, schema.FieldOffsetX)
	y, _ := tlv.GetF32(fields, schema.FieldOffsetY)
	z, _ := tlv.GetF32(fields, schema.FieldOffsetZ)
	yaw, _ := tlv.GetF32(fields, schema.FieldOffsetYaw)

	v.mu.Lock()
	if v.st.flight != telemetry.FlightStatusInAir {
		v.mu.Unlock()
		v.reply(f, f.Header.Kind, CodeBadState, "not airborne")
		return
	}
	v.epoch++
	epoch := v.epoch
	v.st.display = telemetry.ModeNaviSDKCtrl
	if !v.cfg.Stall {
		v.schedule(v.cfg.MoveDuration, epoch, func(st *state) {
			st.gps = telemetry.OffsetGPS(st.gps, float64(x), float64(y))
			st.height += z
			st.yaw = float64(yaw)
			st.display = telemetry.ModePGPS
		})
	}
	v.mu.Unlock()
	v.reply(f, f.Header.Kind, CodeOK, "")
}
