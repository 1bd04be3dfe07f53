// Package link owns the byte transport between the gateway and the flight controller.
package link

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrLinkClosed = errors.New("link: closed")

// Link moves frames to and from the vehicle. Frames() is closed when the
// receive side stops.
type Link interface {
	Send(f frame.Frame) error
	Frames() <-chan frame.Frame
	Close() error
}

// StreamLink frames a byte stream. One goroutine owns the read side.
type StreamLink struct {
	name   string
	rw     io.ReadWriteCloser
	limits frame.Limits

	writeMu sync.Mutex
	frames  chan frame.Frame
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var _ Link = (*StreamLink)(nil)

func NewStreamLink(name string, rw io.ReadWriteCloser, limits frame.Limits) *StreamLink {
	l := &StreamLink{
		name:   name,
		rw:     rw,
		limits: limits,
		frames: make(chan frame.Frame, 64),
		done:   make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *StreamLink) Send(f frame.Frame) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := frame.WriteFrame(l.rw, f, l.limits); err != nil {
		return err
	}
	return nil
}

func (l *StreamLink) Frames() <-chan frame.Frame {
	return l.frames
}

func (l *StreamLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.rw.Close()
	})
	return l.closeErr
}

func (l *StreamLink) readLoop() {
	defer close(l.frames)
	r := bufio.NewReader(l.rw)
	for {
		f, err := frame.ReadFrame(r, l.limits)
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrChecksum):
			log.Warn().
				Str("link", l.name).
				Uint64("request_id", f.Header.RequestID).
				Uint32("kind", f.Header.Kind).
				Msg("link.StreamLink corrupt frame")
		case errors.Is(err, frame.ErrSyncLost), errors.Is(err, frame.ErrUnsupportedVersion), errors.Is(err, frame.ErrPayloadTooLarge):
			log.Warn().Str("link", l.name).Err(err).Msg("link.StreamLink dropped bytes")
			continue
		default:
			select {
			case <-l.done:
			default:
				if !errors.Is(err, io.EOF) {
					log.Warn().Str("link", l.name).Err(err).Msg("link.StreamLink read stopped")
				}
			}
			return
		}
		select {
		case l.frames <- f:
		case <-l.done:
			return
		}
	}
}
