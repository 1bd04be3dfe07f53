package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/testutil/testlog"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []frame.Frame
	err     error
	c       *Correlator
	respond func(f frame.Frame) []frame.Frame
}

func (s *fakeSender) Send(f frame.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.sent = append(s.sent, f)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		replies := respond(f)
		go func() {
			for _, r := range replies {
				s.c.Deliver(r)
			}
		}()
	}
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestCorrelator(respond func(f frame.Frame) []frame.Frame) (*Correlator, *fakeSender) {
	s := &fakeSender{respond: respond}
	c := NewCorrelator(s)
	s.c = c
	return c, s
}

func ackFor(req frame.Frame, kind uint32, code uint32, extra ...tlv.Field) frame.Frame {
	fields := append([]tlv.Field{tlv.U32(schema.FieldAckCode, code)}, extra...)
	return frame.Frame{
		Header:  frame.Header{RequestID: req.Header.RequestID, Kind: kind, Flags: frame.FlagResponse},
		Payload: tlv.EncodeFields(fields),
	}
}

func cameraRequest(value uint32, timeout time.Duration) Request {
	return Request{
		Kind: schema.KindCamera,
		Fields: []tlv.Field{
			tlv.U8(schema.FieldPayloadIndex, 0),
			tlv.U8(schema.FieldCameraOp, 1),
			tlv.U32(schema.FieldCameraValue, value),
		},
		Timeout: timeout,
	}
}

func TestSendSuccess(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
		return []frame.Frame{ackFor(f, f.Header.Kind, CodeOK, tlv.U32(schema.FieldCameraValue, 7))}
	})
	res := c.Send(context.Background(), cameraRequest(7, time.Second))
	if !res.OK() || res.Err() != nil {
		t.Fatalf("expected success, got %v", res)
	}
	if v, err := tlv.GetU32(res.Payload(), schema.FieldCameraValue); err != nil || v != 7 {
		t.Fatalf("payload value got=%d err=%v", v, err)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entries left: %d", c.PendingCount())
	}
}

func TestSendZeroTimeoutSkipsTransmit(t *testing.T) {
	testlog.Start(t)
	c, s := newTestCorrelator(nil)
	for _, timeout := range []time.Duration{0, -time.Second} {
		res := c.Send(context.Background(), cameraRequest(1, timeout))
		if res.Outcome != OutcomeTimeout {
			t.Fatalf("timeout=%v: expected Timeout, got %v", timeout, res)
		}
		if !errors.Is(res.Err(), ErrAckTimeout) {
			t.Fatalf("expected ErrAckTimeout, got %v", res.Err())
		}
	}
	if s.count() != 0 {
		t.Fatalf("expected nothing sent, got %d frames", s.count())
	}
}

func TestSendTimeoutLeavesNoEntry(t *testing.T) {
	testlog.Start(t)
	c, s := newTestCorrelator(nil)
	start := time.Now()
	res := c.Send(context.Background(), cameraRequest(1, 30*time.Millisecond))
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected Timeout, got %v", res)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Fatalf("unexpected wait %v", elapsed)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entries left: %d", c.PendingCount())
	}

	// A late ack must not resolve anything.
	s.mu.Lock()
	sent := s.sent[0]
	s.mu.Unlock()
	if status := c.Deliver(ackFor(sent, sent.Header.Kind, CodeOK)); status != session.ResolveUnknown {
		t.Fatalf("late ack status=%s", status)
	}
}

func TestSendRejectedCarriesCode(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
		return []frame.Frame{ackFor(f, f.Header.Kind, 3, tlv.String(schema.FieldAckReason, "motors not started"))}
	})
	res := c.Send(context.Background(), cameraRequest(1, time.Second))
	if res.Outcome != OutcomeRejected || res.Code != 3 || res.Reason != "motors not started" {
		t.Fatalf("unexpected result %v", res)
	}
	if !errors.Is(res.Err(), ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", res.Err())
	}
	got, ok := ResultOf(res.Err())
	if !ok || got.Code != 3 {
		t.Fatalf("ResultOf lost the result: %+v ok=%v", got, ok)
	}
	if len(res.Payload()) != 0 {
		t.Fatalf("rejected result carries payload")
	}
}

func TestSendNackAndCorruptAreLinkErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(f frame.Frame) frame.Frame{
		"nack": func(f frame.Frame) frame.Frame {
			r := ackFor(f, f.Header.Kind, 9)
			r.Header.Flags |= frame.FlagNack
			return r
		},
		"corrupt": func(f frame.Frame) frame.Frame {
			r := ackFor(f, f.Header.Kind, CodeOK)
			r.Header.Flags |= frame.FlagCorrupt
			return r
		},
		"malformed": func(f frame.Frame) frame.Frame {
			r := ackFor(f, f.Header.Kind, CodeOK)
			r.Payload = []byte{1, 2, 3}
			return r
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
				return []frame.Frame{build(f)}
			})
			res := c.Send(context.Background(), cameraRequest(1, time.Second))
			if res.Outcome != OutcomeLinkError {
				t.Fatalf("expected LinkError, got %v", res)
			}
			if !errors.Is(res.Err(), ErrLinkError) {
				t.Fatalf("expected ErrLinkError, got %v", res.Err())
			}
			if c.PendingCount() != 0 {
				t.Fatalf("pending entries left: %d", c.PendingCount())
			}
		})
	}
}

func TestSendTransmitFailure(t *testing.T) {
	testlog.Start(t)
	c, s := newTestCorrelator(nil)
	s.err = errors.New("port gone")
	res := c.Send(context.Background(), cameraRequest(1, time.Second))
	if res.Outcome != OutcomeLinkError || res.Code != CodeTransmit {
		t.Fatalf("expected transmit LinkError, got %v", res)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entries left: %d", c.PendingCount())
	}
}

func TestSendInvalidRequestNeverTransmits(t *testing.T) {
	testlog.Start(t)
	c, s := newTestCorrelator(nil)
	res := c.Send(context.Background(), Request{Kind: schema.KindCamera, Timeout: time.Second})
	if res.Outcome != OutcomeRejected || res.Code != CodeInvalidArgument {
		t.Fatalf("expected invalid argument rejection, got %v", res)
	}
	if s.count() != 0 {
		t.Fatalf("invalid request was sent")
	}
}

func TestSendContextCancel(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := c.Send(ctx, cameraRequest(1, 10*time.Second))
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected Timeout on cancel, got %v", res)
	}
	if res.Elapsed > 5*time.Second {
		t.Fatalf("cancel did not cut the wait: %v", res.Elapsed)
	}
}

func TestSendFollowUpStage(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
		return []frame.Frame{
			ackFor(f, f.Header.Kind, CodeOK),
			ackFor(f, schema.KindMFIOStatus, CodeOK, tlv.U8(schema.FieldMFIOChannel, 2), tlv.U32(schema.FieldMFIOValue, 1)),
		}
	})
	res := c.Send(context.Background(), Request{
		Kind: schema.KindMFIOInput,
		Fields: []tlv.Field{
			tlv.U8(schema.FieldMFIOMode, 1),
			tlv.U8(schema.FieldMFIOChannel, 2),
			tlv.Bool(schema.FieldMFIOBlock, true),
		},
		Timeout:         time.Second,
		FollowUp:        schema.KindMFIOStatus,
		FollowUpTimeout: time.Second,
	})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res)
	}
	if v, err := tlv.GetU32(res.Payload(), schema.FieldMFIOValue); err != nil || v != 1 {
		t.Fatalf("follow-up value got=%d err=%v", v, err)
	}
}

func TestSendFollowUpTimeout(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
		return []frame.Frame{ackFor(f, f.Header.Kind, CodeOK)}
	})
	res := c.Send(context.Background(), Request{
		Kind: schema.KindMFIOInput,
		Fields: []tlv.Field{
			tlv.U8(schema.FieldMFIOMode, 1),
			tlv.U8(schema.FieldMFIOChannel, 2),
			tlv.Bool(schema.FieldMFIOBlock, true),
		},
		Timeout:         time.Second,
		FollowUp:        schema.KindMFIOStatus,
		FollowUpTimeout: 30 * time.Millisecond,
	})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected follow-up Timeout, got %v", res)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entries left: %d", c.PendingCount())
	}
}

func TestConcurrentSendsNoCrossTalk(t *testing.T) {
	testlog.Start(t)
	const n = 100
	inbox := make(chan frame.Frame, n)
	c, s := newTestCorrelator(nil)
	s.respond = func(f frame.Frame) []frame.Frame {
		inbox <- f
		return nil
	}

	// Answer in reverse arrival order once everything is in flight.
	go func() {
		batch := make([]frame.Frame, 0, n)
		for f := range inbox {
			batch = append(batch, f)
			if len(batch) == n {
				break
			}
		}
		for i := len(batch) - 1; i >= 0; i-- {
			fields, _ := tlv.DecodeFields(batch[i].Payload)
			v, _ := tlv.GetU32(fields, schema.FieldCameraValue)
			c.Deliver(ackFor(batch[i], batch[i].Header.Kind, CodeOK, tlv.U32(schema.FieldCameraValue, v)))
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := c.Send(context.Background(), cameraRequest(uint32(i), 5*time.Second))
			if !res.OK() {
				errs <- res.String()
				return
			}
			v, err := tlv.GetU32(res.Payload(), schema.FieldCameraValue)
			if err != nil || v != uint32(i) {
				errs <- "cross talk"
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("request failed: %s", e)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entries left: %d", c.PendingCount())
	}
}

func TestUnexpectedKindIsDiscarded(t *testing.T) {
	testlog.Start(t)
	c, _ := newTestCorrelator(func(f frame.Frame) []frame.Frame {
		return []frame.Frame{
			ackFor(f, schema.KindGimbalQuery, CodeOK),
			ackFor(f, f.Header.Kind, CodeOK),
		}
	})
	res := c.Send(context.Background(), cameraRequest(1, time.Second))
	if !res.OK() {
		t.Fatalf("expected success after stray frame, got %v", res)
	}
}
