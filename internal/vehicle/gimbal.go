package vehicle

import (
	"context"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

const (
	GimbalAbsolute uint8 = 0
	GimbalRelative uint8 = 1
)

// GimbalRotation angles are degrees; Time is the rotation duration in seconds.
type GimbalRotation struct {
	Pitch, Roll, Yaw float32
	Time             float32
	Mode             uint8
}

type GimbalData struct {
	Pitch  float32 `json:"pitch"`
	Roll   float32 `json:"roll"`
	Yaw    float32 `json:"yaw"`
	Status uint32  `json:"status"`
}

func (g *Gateway) GetGimbalData(ctx context.Context, index PayloadIndex) (GimbalData, gateway.AckResult) {
	res := g.send(ctx, schema.KindGimbalQuery, tlv.U8(schema.FieldPayloadIndex, uint8(index)))
	if !res.OK() {
		return GimbalData{}, res
	}
	return gimbalData(res.Payload()), res
}

func (g *Gateway) RotateGimbal(ctx context.Context, index PayloadIndex, rot GimbalRotation) gateway.AckResult {
	return g.send(ctx, schema.KindGimbalRotate,
		tlv.U8(schema.FieldPayloadIndex, uint8(index)),
		tlv.F32(schema.FieldGimbalPitch, rot.Pitch),
		tlv.F32(schema.FieldGimbalRoll, rot.Roll),
		tlv.F32(schema.FieldGimbalYaw, rot.Yaw),
		tlv.F32(schema.FieldGimbalTime, rot.Time),
		tlv.U8(schema.FieldGimbalMode, rot.Mode),
	)
}

func (g *Gateway) ResetGimbal(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.send(ctx, schema.KindGimbalReset, tlv.U8(schema.FieldPayloadIndex, uint8(index)))
}

func gimbalData(fields []tlv.Field) GimbalData {
	var d GimbalData
	d.Pitch, _ = tlv.GetF32(fields, schema.FieldGimbalPitch)
	d.Roll, _ = tlv.GetF32(fields, schema.FieldGimbalRoll)
	d.Yaw, _ = tlv.GetF32(fields, schema.FieldGimbalYaw)
	d.Status, _ = tlv.GetU32(fields, schema.FieldGimbalStatus)
	return d
}
