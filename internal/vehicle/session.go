package vehicle

import (
	"sync"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/link"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Session owns the links, the correlator and the shared receive-side state
// of one vehicle. It is built once and passed to everything that needs it.
type Session struct {
	opts  Options
	links []link.Link

	corr   *gateway.Correlator
	subs   *Subscriptions
	frames *FrameBuffer

	firmware string

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession starts one receive goroutine per link. Requests go out on main;
// extra links (the ACM camera port) only feed the receive path.
func NewSession(opts Options, main link.Link, extra ...link.Link) *Session {
	s := &Session{
		opts:   opts,
		links:  append([]link.Link{main}, extra...),
		corr:   gateway.NewCorrelator(main),
		subs:   NewSubscriptions(),
		frames: NewFrameBuffer(),
		done:   make(chan struct{}),
	}
	for _, l := range s.links {
		s.wg.Add(1)
		go s.receive(l)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	return s
}

func (s *Session) Correlator() *gateway.Correlator { return s.corr }
func (s *Session) Subscriptions() *Subscriptions   { return s.subs }
func (s *Session) Frames() *FrameBuffer            { return s.frames }
func (s *Session) Options() Options                { return s.opts }
func (s *Session) Firmware() string                { return s.firmware }

// Done is closed once every receive loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close closes every link and waits for the receive loops.
func (s *Session) Close() error {
	var first error
	s.closeOnce.Do(func() {
		for _, l := range s.links {
			if err := l.Close(); err != nil && first == nil {
				first = err
			}
		}
	})
	<-s.done
	return first
}

func (s *Session) receive(l link.Link) {
	defer s.wg.Done()
	for f := range l.Frames() {
		s.dispatch(f)
	}
	log.Debug().Msg("vehicle.Session receive loop stopped")
}

func (s *Session) dispatch(f frame.Frame) {
	switch {
	case f.IsResponse() || f.IsCorrupt():
		s.corr.Deliver(f)
	case f.Header.Kind == schema.KindTelemetry:
		if err := s.subs.handle(f); err != nil {
			observability.RecordDiscardedFrame("telemetry")
			log.Debug().Err(err).Msg("vehicle.Session telemetry dropped")
		}
	case f.Header.Kind == schema.KindCameraFrame:
		if err := s.frames.handle(f); err != nil {
			observability.RecordDiscardedFrame("camera_frame")
			log.Debug().Err(err).Msg("vehicle.Session camera frame dropped")
		}
	default:
		observability.RecordDiscardedFrame("unsolicited")
		log.Debug().Str("kind", schema.KindName(f.Header.Kind)).Msg("vehicle.Session unsolicited frame")
	}
}
