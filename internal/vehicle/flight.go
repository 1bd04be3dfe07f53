package vehicle

import (
	"context"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

// SetNewHomeLocation records the current position as home.
func (g *Gateway) SetNewHomeLocation(ctx context.Context, timeout time.Duration) gateway.AckResult {
	return g.sendWithin(ctx, schema.KindSetHome, timeout)
}

// SetHomeAltitude sets the return-to-home altitude in meters.
func (g *Gateway) SetHomeAltitude(ctx context.Context, altitude uint16, timeout time.Duration) gateway.AckResult {
	return g.sendWithin(ctx, schema.KindSetHomeAltitude, timeout, tlv.U16(schema.FieldAltitude, altitude))
}

// GoHome only waits for the ack; use GoHomeAndConfirmLanding to follow it down.
func (g *Gateway) GoHome(ctx context.Context, timeout time.Duration) gateway.AckResult {
	return g.flightAction(ctx, schema.ActionGoHome, timeout)
}

func (g *Gateway) SetAvoid(ctx context.Context, enable bool) gateway.AckResult {
	return g.send(ctx, schema.KindSetAvoid, tlv.Bool(schema.FieldAvoidEnable, enable))
}
