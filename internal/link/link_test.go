package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/testutil/testlog"
)

func TestPipeCarriesFramesBothWays(t *testing.T) {
	testlog.Start(t)
	gw, veh := Pipe()
	defer gw.Close()
	defer veh.Close()

	if err := gw.Send(frame.Frame{Header: frame.Header{RequestID: 1, Kind: 20}, Payload: []byte{1}}); err != nil {
		t.Fatalf("gateway send: %v", err)
	}
	select {
	case f := <-veh.Frames():
		if f.Header.RequestID != 1 || f.Header.Kind != 20 {
			t.Fatalf("unexpected frame at vehicle: %+v", f.Header)
		}
	case <-time.After(time.Second):
		t.Fatalf("vehicle did not receive frame")
	}

	if err := veh.Send(frame.Frame{Header: frame.Header{RequestID: 1, Kind: 20, Flags: frame.FlagResponse}}); err != nil {
		t.Fatalf("vehicle send: %v", err)
	}
	select {
	case f := <-gw.Frames():
		if !f.IsResponse() {
			t.Fatalf("expected response flag")
		}
	case <-time.After(time.Second):
		t.Fatalf("gateway did not receive frame")
	}
}

func TestCloseEndsFramesAndRejectsSend(t *testing.T) {
	testlog.Start(t)
	gw, veh := Pipe()
	defer veh.Close()
	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := gw.Send(frame.Frame{}); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
	select {
	case _, ok := <-gw.Frames():
		if ok {
			t.Fatalf("expected closed frames channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("frames channel not closed")
	}
}

func TestOpenRetriesUntilSuccess(t *testing.T) {
	testlog.Start(t)
	calls := 0
	gw, veh := Pipe()
	defer gw.Close()
	defer veh.Close()
	opener := func(ctx context.Context) (Link, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("device busy")
		}
		return gw, nil
	}
	backoff := session.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	l, err := Open(context.Background(), opener, 5, backoff)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l != gw || calls != 3 {
		t.Fatalf("unexpected result link=%v calls=%d", l, calls)
	}
}

func TestOpenGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	calls := 0
	opener := func(ctx context.Context) (Link, error) {
		calls++
		return nil, errors.New("no such device")
	}
	backoff := session.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	if _, err := Open(context.Background(), opener, 2, backoff); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if _, err := Open(context.Background(), nil, 1, backoff); !errors.Is(err, ErrNoOpener) {
		t.Fatalf("expected ErrNoOpener, got %v", err)
	}
}

func TestOpenDoublesDelayUpToMax(t *testing.T) {
	testlog.Start(t)
	var stamps []time.Time
	opener := func(ctx context.Context) (Link, error) {
		stamps = append(stamps, time.Now())
		return nil, errors.New("device busy")
	}
	backoff := session.BackoffConfig{InitialDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	if _, err := Open(context.Background(), opener, 4, backoff); err == nil {
		t.Fatalf("expected error")
	}
	if len(stamps) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(stamps))
	}
	// 20ms, 40ms, then 80ms capped to 50ms.
	mins := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, want := range mins {
		gap := stamps[i+1].Sub(stamps[i])
		if gap < want {
			t.Fatalf("gap %d = %v, want at least %v", i, gap, want)
		}
		if gap > want+time.Second {
			t.Fatalf("gap %d = %v, cap not applied", i, gap)
		}
	}
}

func TestOpenStopsWhenContextEnds(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	opener := func(context.Context) (Link, error) {
		calls++
		cancel()
		return nil, errors.New("device busy")
	}
	backoff := session.BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, MaxJitter: 10 * time.Millisecond}
	start := time.Now()
	if _, err := Open(ctx, opener, 5, backoff); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || time.Since(start) > 500*time.Millisecond {
		t.Fatalf("retry kept going after cancel: calls=%d elapsed=%v", calls, time.Since(start))
	}
}
