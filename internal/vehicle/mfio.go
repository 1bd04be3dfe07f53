package vehicle

import (
	"context"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

// mfio runs one MFIO request. block adds a wait for the status frame that
// reports the physical effect; otherwise the call ends at the ack.
func (g *Gateway) mfio(ctx context.Context, kind uint32, block bool, fields ...tlv.Field) gateway.AckResult {
	t := g.timing()
	req := gateway.Request{Kind: kind, Fields: fields, Timeout: t.AckTimeout}
	if block {
		req.FollowUp = schema.KindMFIOStatus
		req.FollowUpTimeout = t.FollowUpTimeout
	}
	return g.sess.corr.Send(ctx, req)
}

// OutputMFIO configures channel and drives value on it.
func (g *Gateway) OutputMFIO(ctx context.Context, mode, channel uint8, onTimeUS uint32, freq uint16, block bool, value uint32) gateway.AckResult {
	return g.mfio(ctx, schema.KindMFIOOutput, block,
		tlv.U8(schema.FieldMFIOMode, mode),
		tlv.U8(schema.FieldMFIOChannel, channel),
		tlv.U32(schema.FieldMFIOOnTimeUS, onTimeUS),
		tlv.U16(schema.FieldMFIOFreq, freq),
		tlv.U32(schema.FieldMFIOValue, value),
		tlv.Bool(schema.FieldMFIOBlock, block),
	)
}

// InputMFIO reads channel. With block the value comes from the status frame.
func (g *Gateway) InputMFIO(ctx context.Context, mode, channel uint8, block bool) (uint32, gateway.AckResult) {
	res := g.mfio(ctx, schema.KindMFIOInput, block,
		tlv.U8(schema.FieldMFIOMode, mode),
		tlv.U8(schema.FieldMFIOChannel, channel),
		tlv.Bool(schema.FieldMFIOBlock, block),
	)
	if !res.OK() {
		return 0, res
	}
	return lastU32(res.Payload(), schema.FieldMFIOValue), res
}

func (g *Gateway) StopMFIO(ctx context.Context, mode, channel uint8) gateway.AckResult {
	return g.mfio(ctx, schema.KindMFIOStop, false,
		tlv.U8(schema.FieldMFIOMode, mode),
		tlv.U8(schema.FieldMFIOChannel, channel),
	)
}

// lastU32 returns the last occurrence of id; follow-up fields come after the ack's.
func lastU32(fields []tlv.Field, id uint16) uint32 {
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].ID != id {
			continue
		}
		if v, err := tlv.GetU32(fields[i:i+1], id); err == nil {
			return v
		}
	}
	return 0
}
