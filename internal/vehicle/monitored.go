package vehicle

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// statusTopics is what monitored actions need to observe.
var statusTopics = []telemetry.TopicName{
	telemetry.TopicStatusFlight,
	telemetry.TopicStatusDisplayMode,
	telemetry.TopicHeightFusion,
	telemetry.TopicGPSFused,
	telemetry.TopicQuaternion,
}

// Status is one coherent read of the status topics.
type Status struct {
	Flight      uint8
	DisplayMode uint8
	Height      float32
	GPS         telemetry.GPSFused
	Attitude    telemetry.Quaternion
}

// statusSince assembles a Status from samples newer than since.
func (s *Subscriptions) statusSince(since time.Time) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Status
	for _, t := range statusTopics {
		sample, ok := s.latest[t]
		if !ok || !sample.At.After(since) {
			return Status{}, false
		}
		switch v := sample.Value.(type) {
		case uint8:
			if t == telemetry.TopicStatusFlight {
				st.Flight = v
			} else {
				st.DisplayMode = v
			}
		case float32:
			st.Height = v
		case telemetry.GPSFused:
			st.GPS = v
		case telemetry.Quaternion:
			st.Attitude = v
		}
	}
	return st, true
}

// MoveOffset is a position change relative to where the vehicle is when the
// command is sent. X is north, Y east, Z up, all in meters; Yaw is the target
// heading in degrees.
type MoveOffset struct {
	X, Y, Z      float32
	Yaw          float32
	PosThreshold float32
	YawThreshold float32
}

const (
	defaultPosThreshold = 0.2
	defaultYawThreshold = 1.0
)

// ensureStatusPackage makes sure the status package is streaming. Concurrent
// callers share one setup round trip, and each stops waiting when its own ctx
// ends. The shared setup is bounded by the ack timeout, not by any caller.
func (g *Gateway) ensureStatusPackage(ctx context.Context) gateway.AckResult {
	if res, ok := g.statusPackageActive(); ok {
		return res
	}
	ch := g.status.DoChan("setup", func() (any, error) {
		if res, ok := g.statusPackageActive(); ok {
			return res, nil
		}
		opts := g.sess.opts
		return g.SetUpSubscription(context.WithoutCancel(ctx), opts.StatusPackage, opts.StatusFrequency, statusTopics, g.timing().AckTimeout), nil
	})
	select {
	case r := <-ch:
		return r.Val.(gateway.AckResult)
	case <-ctx.Done():
		return gateway.Timeout(0, schema.KindSubscribe, ctx.Err().Error(), 0)
	}
}

// statusPackageActive reports the outcome when the status index is already taken.
func (g *Gateway) statusPackageActive() (gateway.AckResult, bool) {
	index := g.sess.opts.StatusPackage
	pv, ok := g.sess.subs.Package(index)
	if !ok {
		return gateway.AckResult{}, false
	}
	if !slices.Equal(pv.Topics, statusTopics) {
		return gateway.Rejected(0, schema.KindSubscribe, gateway.CodeIndexInUse,
			fmt.Sprintf("status package index %d holds other topics", index)), true
	}
	return gateway.Success(0, schema.KindSubscribe, nil, 0), true
}

// waitStatus polls status samples newer than since until cond holds or deadline passes.
func (g *Gateway) waitStatus(ctx context.Context, since, deadline time.Time, cond func(Status) bool) (Status, bool) {
	ticker := time.NewTicker(g.timing().PollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		if st, ok := g.sess.subs.statusSince(since); ok && cond(st) {
			return st, true
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return Status{}, false
		case <-ctx.Done():
			return Status{}, false
		}
	}
}

func (g *Gateway) flightAction(ctx context.Context, action uint8, timeout time.Duration) gateway.AckResult {
	return g.sendWithin(ctx, schema.KindFlightAction, timeout, tlv.U8(schema.FieldFlightAction, action))
}

func finishMonitored(action string, res gateway.AckResult, start time.Time) gateway.AckResult {
	elapsed := time.Since(start)
	observability.RecordMonitoredAction(action, res.Outcome.String())
	event := log.Info()
	if !res.OK() {
		event = log.Warn()
	}
	event.
		Str("action", action).
		Str("outcome", res.Outcome.String()).
		Uint32("code", res.Code).
		Str("reason", res.Reason).
		Dur("elapsed", elapsed).
		Msg("vehicle.monitored done")
	return res.WithElapsed(elapsed)
}

func takeoffDone(st Status) bool {
	if st.Flight != telemetry.FlightStatusInAir {
		return false
	}
	switch st.DisplayMode {
	case telemetry.ModeAutoTakeoff, telemetry.ModeAssistedTakeoff, telemetry.ModeEngineStart:
		return false
	}
	return true
}

func landed(st Status) bool {
	return st.Flight != telemetry.FlightStatusInAir
}

func landingMode(st Status) bool {
	return st.DisplayMode == telemetry.ModeAutoLanding || st.DisplayMode == telemetry.ModeForceAutoLanding
}

// MonitoredTakeoff sends takeoff and waits up to timeout after the ack for the
// vehicle to be airborne outside the takeoff modes. On timeout it returns
// PhysicalTimeout and leaves any abort to the caller.
func (g *Gateway) MonitoredTakeoff(ctx context.Context, timeout time.Duration) gateway.AckResult {
	start := time.Now()
	if res := g.ensureStatusPackage(ctx); !res.OK() {
		return finishMonitored("takeoff", res, start)
	}
	ack := g.flightAction(ctx, schema.ActionTakeoff, g.timing().AckTimeout)
	if !ack.OK() {
		return finishMonitored("takeoff", ack, start)
	}
	ackAt := time.Now()
	if _, ok := g.waitStatus(ctx, ackAt, ackAt.Add(timeout), takeoffDone); !ok {
		return finishMonitored("takeoff", gateway.PhysicalTimeout(ack, "vehicle not airborne before deadline", time.Since(start)), start)
	}
	return finishMonitored("takeoff", ack, start)
}

// MonitoredLanding sends landing, checks that landing started, then waits for the ground.
func (g *Gateway) MonitoredLanding(ctx context.Context, timeout time.Duration) gateway.AckResult {
	start := time.Now()
	if res := g.ensureStatusPackage(ctx); !res.OK() {
		return finishMonitored("landing", res, start)
	}
	ack := g.flightAction(ctx, schema.ActionLanding, g.timing().AckTimeout)
	if !ack.OK() {
		return finishMonitored("landing", ack, start)
	}
	ackAt := time.Now()
	deadline := ackAt.Add(timeout)
	startBy := ackAt.Add(g.timing().ActionStartWindow)
	if startBy.After(deadline) {
		startBy = deadline
	}
	started := func(st Status) bool { return landingMode(st) || landed(st) }
	if _, ok := g.waitStatus(ctx, ackAt, startBy, started); !ok {
		return finishMonitored("landing", gateway.PhysicalTimeout(ack, "landing did not start", time.Since(start)), start)
	}
	if _, ok := g.waitStatus(ctx, ackAt, deadline, landed); !ok {
		return finishMonitored("landing", gateway.PhysicalTimeout(ack, "vehicle not on ground before deadline", time.Since(start)), start)
	}
	return finishMonitored("landing", ack, start)
}

// GoHomeAndConfirmLanding flies home, confirms the landing once the vehicle
// enters a landing mode, and waits for the ground.
func (g *Gateway) GoHomeAndConfirmLanding(ctx context.Context, timeout time.Duration) gateway.AckResult {
	start := time.Now()
	if res := g.ensureStatusPackage(ctx); !res.OK() {
		return finishMonitored("go_home_landing", res, start)
	}
	ack := g.flightAction(ctx, schema.ActionGoHome, g.timing().AckTimeout)
	if !ack.OK() {
		return finishMonitored("go_home_landing", ack, start)
	}
	ackAt := time.Now()
	deadline := ackAt.Add(timeout)
	arrived := func(st Status) bool { return landingMode(st) || landed(st) }
	st, ok := g.waitStatus(ctx, ackAt, deadline, arrived)
	if !ok {
		return finishMonitored("go_home_landing", gateway.PhysicalTimeout(ack, "vehicle did not reach home", time.Since(start)), start)
	}
	if !landed(st) {
		confirm := g.flightAction(ctx, schema.ActionConfirmLanding, g.timing().AckTimeout)
		if !confirm.OK() {
			return finishMonitored("go_home_landing", confirm, start)
		}
		if _, ok := g.waitStatus(ctx, time.Now(), deadline, landed); !ok {
			return finishMonitored("go_home_landing", gateway.PhysicalTimeout(ack, "vehicle not on ground before deadline", time.Since(start)), start)
		}
	}
	return finishMonitored("go_home_landing", ack, start)
}

// MoveByPositionOffset moves relative to the current position and waits until
// position and heading are within thresholds.
func (g *Gateway) MoveByPositionOffset(ctx context.Context, offset MoveOffset, timeout time.Duration) gateway.AckResult {
	start := time.Now()
	if res := g.ensureStatusPackage(ctx); !res.OK() {
		return finishMonitored("position_offset", res, start)
	}
	if offset.PosThreshold <= 0 {
		offset.PosThreshold = defaultPosThreshold
	}
	if offset.YawThreshold <= 0 {
		offset.YawThreshold = defaultYawThreshold
	}

	// The origin must be sampled after the package is confirmed; anything older
	// may predate a teardown during which the vehicle moved.
	since := time.Now()
	origin, ok := g.waitStatus(ctx, since, since.Add(g.timing().ActionStartWindow), func(Status) bool { return true })
	if !ok {
		return finishMonitored("position_offset", gateway.Timeout(0, schema.KindPositionOffset, "no status telemetry", time.Since(start)), start)
	}

	ack := g.send(ctx, schema.KindPositionOffset,
		tlv.F32(schema.FieldOffsetX, offset.X),
		tlv.F32(schema.FieldOffsetY, offset.Y),
		tlv.F32(schema.FieldOffsetZ, offset.Z),
		tlv.F32(schema.FieldOffsetYaw, offset.Yaw),
		tlv.F32(schema.FieldPosThreshold, offset.PosThreshold),
		tlv.F32(schema.FieldYawThreshold, offset.YawThreshold),
	)
	if !ack.OK() {
		return finishMonitored("position_offset", ack, start)
	}
	ackAt := time.Now()
	reached := func(st Status) bool {
		d := telemetry.LocalOffsetFromGPSOffset(st.GPS, origin.GPS)
		dz := st.Height - origin.Height
		yaw := telemetry.Rad2Deg(telemetry.ToEulerAngle(st.Attitude).Yaw)
		pos := float64(offset.PosThreshold)
		return math.Abs(float64(d.X-offset.X)) < pos &&
			math.Abs(float64(d.Y-offset.Y)) < pos &&
			math.Abs(float64(dz-offset.Z)) < pos &&
			math.Abs(telemetry.YawError(yaw, float64(offset.Yaw))) < float64(offset.YawThreshold)
	}
	if _, ok := g.waitStatus(ctx, ackAt, ackAt.Add(timeout), reached); !ok {
		return finishMonitored("position_offset", gateway.PhysicalTimeout(ack, "target offset not reached before deadline", time.Since(start)), start)
	}
	return finishMonitored("position_offset", ack, start)
}

// CheckActionStarted reports whether the display mode becomes mode within the start window.
func (g *Gateway) CheckActionStarted(ctx context.Context, mode uint8) bool {
	if res := g.ensureStatusPackage(ctx); !res.OK() {
		return false
	}
	now := time.Now()
	_, ok := g.waitStatus(ctx, now, now.Add(g.timing().ActionStartWindow), func(st Status) bool {
		return st.DisplayMode == mode
	})
	return ok
}
