// Package gateway pairs outbound requests with their acknowledgements and
// turns every request into exactly one AckResult.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Sender is the outbound half of a link.
type Sender interface {
	Send(f frame.Frame) error
}

// Request is one command sent with a bounded wait.
type Request struct {
	Kind   uint32
	Fields []tlv.Field
	// Timeout bounds the wait for the ACK. Zero or negative fails immediately.
	Timeout time.Duration
	// FollowUp, when non-zero, is a second response kind awaited after the ACK.
	FollowUp        uint32
	FollowUpTimeout time.Duration
}

type Correlator struct {
	sender Sender
	table  *session.Table
	nextID atomic.Uint64
}

func NewCorrelator(sender Sender) *Correlator {
	return &Correlator{
		sender: sender,
		table:  session.NewTable(),
	}
}

// Pending returns the in-flight requests ordered by id.
func (c *Correlator) Pending() []session.PendingView {
	return c.table.List()
}

func (c *Correlator) PendingCount() int {
	return c.table.Len()
}

// Deliver routes a response frame to its waiting request. Frames nobody waits
// for are dropped and counted.
func (c *Correlator) Deliver(f frame.Frame) session.ResolveStatus {
	status := c.table.Resolve(f)
	if status != session.ResolveMatched {
		observability.RecordDiscardedFrame(status.String())
		log.Debug().
			Uint64("request_id", f.Header.RequestID).
			Str("kind", schema.KindName(f.Header.Kind)).
			Str("status", status.String()).
			Msg("gateway.Deliver discarded frame")
	}
	return status
}

// Send transmits req once and waits for its responses. It never returns
// without an outcome and it never leaves an entry behind in the table.
func (c *Correlator) Send(ctx context.Context, req Request) AckResult {
	start := time.Now()
	id := c.nextID.Add(1)
	res := c.send(ctx, id, req, start)
	c.finish(res, time.Since(start))
	return res.WithElapsed(time.Since(start))
}

func (c *Correlator) send(ctx context.Context, id uint64, req Request, start time.Time) AckResult {
	if req.Timeout <= 0 {
		return Timeout(id, req.Kind, "deadline elapsed before send", 0)
	}
	if err := schema.Validate(req.Kind, req.Fields); err != nil {
		return Rejected(id, req.Kind, CodeInvalidArgument, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return Timeout(id, req.Kind, err.Error(), 0)
	}

	expect := []uint32{req.Kind}
	if req.FollowUp != 0 {
		expect = append(expect, req.FollowUp)
	}
	p := session.NewPendingRequest(id, req.Kind, expect, start, start.Add(req.Timeout))
	if err := c.table.Insert(p); err != nil {
		return LinkFailure(id, req.Kind, CodeTransmit, err.Error(), time.Since(start))
	}
	observability.SetPendingRequests(c.table.Len())
	defer func() {
		c.table.Remove(id)
		observability.SetPendingRequests(c.table.Len())
	}()

	out := frame.Frame{
		Header:  frame.Header{RequestID: id, Kind: req.Kind},
		Payload: tlv.EncodeFields(req.Fields),
	}
	if err := c.sender.Send(out); err != nil {
		log.Warn().Err(err).Uint64("request_id", id).Str("kind", schema.KindName(req.Kind)).Msg("gateway.Send transmit failed")
		return LinkFailure(id, req.Kind, CodeTransmit, err.Error(), time.Since(start))
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	var payload []tlv.Field
	for stage := range expect {
		if stage > 0 {
			wait := req.FollowUpTimeout
			if wait <= 0 {
				wait = req.Timeout
			}
			c.table.SetDeadline(id, time.Now().Add(wait))
			timer.Reset(wait)
		}
		f, ok, reason := c.await(ctx, p, timer)
		if !ok {
			log.Warn().
				Uint64("request_id", id).
				Str("kind", schema.KindName(req.Kind)).
				Int("stage", stage).
				Str("reason", reason).
				Msg("gateway.Send no response")
			return Timeout(id, req.Kind, reason, time.Since(start))
		}
		fields, failed, bad := decodeResponse(id, req.Kind, f)
		if bad {
			failed.Elapsed = time.Since(start)
			return failed
		}
		payload = append(payload, fields...)
	}
	return Success(id, req.Kind, payload, time.Since(start))
}

// await returns the next frame for p. When the timer and a match race, the
// match wins if the table entry is already gone.
func (c *Correlator) await(ctx context.Context, p *session.PendingRequest, timer *time.Timer) (frame.Frame, bool, string) {
	var reason string
	select {
	case f := <-p.Slot():
		return f, true, ""
	case <-timer.C:
		reason = "ack deadline elapsed"
	case <-ctx.Done():
		reason = ctx.Err().Error()
	}
	if c.table.Remove(p.RequestID) {
		return frame.Frame{}, false, reason
	}
	select {
	case f := <-p.Slot():
		return f, true, ""
	default:
		return frame.Frame{}, false, reason
	}
}

func decodeResponse(id uint64, kind uint32, f frame.Frame) ([]tlv.Field, AckResult, bool) {
	if f.IsCorrupt() {
		return nil, LinkFailure(id, kind, CodeCorrupt, "response failed checksum", 0), true
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, LinkFailure(id, kind, CodeMalformed, err.Error(), 0), true
	}
	if f.IsNack() {
		code, err := tlv.GetU32(fields, schema.FieldAckCode)
		if err != nil {
			code = CodeNack
		}
		reason, _ := tlv.GetString(fields, schema.FieldAckReason)
		if reason == "" {
			reason = "vehicle could not process request"
		}
		return nil, LinkFailure(id, kind, code, reason, 0), true
	}
	if err := schema.ValidateResponse(f.Header.Kind, fields); err != nil {
		return nil, LinkFailure(id, kind, CodeMalformed, err.Error(), 0), true
	}
	code, _ := tlv.GetU32(fields, schema.FieldAckCode)
	if code != CodeOK {
		reason, _ := tlv.GetString(fields, schema.FieldAckReason)
		return nil, Rejected(id, kind, code, reason), true
	}
	return fields, AckResult{}, false
}

func (c *Correlator) finish(res AckResult, elapsed time.Duration) {
	observability.RecordRequest(schema.KindName(res.Kind), res.Outcome.String(), elapsed)
	event := log.Debug()
	if !res.OK() {
		event = log.Info()
	}
	event.
		Uint64("request_id", res.RequestID).
		Str("kind", schema.KindName(res.Kind)).
		Str("outcome", res.Outcome.String()).
		Uint32("code", res.Code).
		Dur("elapsed", elapsed).
		Msg("gateway.Send done")
}
