// Package vehicle exposes the flight controller as one method per action.
// Every call goes through the session's correlator and returns a
// gateway.AckResult; compound actions also watch status telemetry.
package vehicle

import (
	"context"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Gateway is the caller-facing vehicle API. It holds the Setup capability it
// was brought up with rather than being one.
type Gateway struct {
	sess  *Session
	setup *Setup

	// status collapses concurrent status package setups into one round trip.
	status singleflight.Group
}

func NewGateway(sess *Session, setup *Setup) *Gateway {
	return &Gateway{sess: sess, setup: setup}
}

func (g *Gateway) Session() *Session { return g.sess }
func (g *Gateway) Setup() *Setup     { return g.setup }

func (g *Gateway) timing() session.Config {
	return g.sess.opts.Timing
}

// Pending lists requests still waiting for a response.
func (g *Gateway) Pending() []session.PendingView {
	return g.sess.corr.Pending()
}

// Latest returns the newest sample of topic. Topics of a torn-down package
// report none until a package carrying them streams again.
func (g *Gateway) Latest(topic telemetry.TopicName) (Sample, bool) {
	return g.sess.subs.Latest(topic)
}

func (g *Gateway) Packages() []PackageView {
	return g.sess.subs.Packages()
}

func (g *Gateway) Close() error {
	return g.sess.Close()
}

// send is a single-shot request with the configured ack timeout.
func (g *Gateway) send(ctx context.Context, kind uint32, fields ...tlv.Field) gateway.AckResult {
	return g.sendWithin(ctx, kind, g.timing().AckTimeout, fields...)
}

func (g *Gateway) sendWithin(ctx context.Context, kind uint32, timeout time.Duration, fields ...tlv.Field) gateway.AckResult {
	return g.sess.corr.Send(ctx, gateway.Request{Kind: kind, Fields: fields, Timeout: timeout})
}
