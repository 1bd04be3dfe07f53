package vehicle

import (
	"context"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

// PayloadIndex selects a gimbal/camera mount.
type PayloadIndex uint8

const (
	PayloadIndex0 PayloadIndex = iota
	PayloadIndex1
	PayloadIndex2
)

type (
	ExposureCompensation uint8
	ExposureMode         uint8
	ISO                  uint8
	ShutterSpeed         uint8
	Aperture             uint16
	PhotoBurstCount      uint8
	PhotoAEBCount        uint8
)

const (
	ExposureProgramAuto      ExposureMode = 1
	ExposureShutterPriority  ExposureMode = 2
	ExposureAperturePriority ExposureMode = 3
	ExposureManual           ExposureMode = 4
)

const (
	ZoomOut uint8 = 0
	ZoomIn  uint8 = 1
)

type PhotoIntervalData struct {
	PhotoCount      uint8
	IntervalSeconds uint16
}

func (g *Gateway) camera(ctx context.Context, index PayloadIndex, op uint8, extra ...tlv.Field) gateway.AckResult {
	fields := append([]tlv.Field{
		tlv.U8(schema.FieldPayloadIndex, uint8(index)),
		tlv.U8(schema.FieldCameraOp, op),
	}, extra...)
	return g.send(ctx, schema.KindCamera, fields...)
}

func (g *Gateway) SetEV(ctx context.Context, index PayloadIndex, ev ExposureCompensation) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetEV, tlv.U32(schema.FieldCameraValue, uint32(ev)))
}

func (g *Gateway) SetExposureMode(ctx context.Context, index PayloadIndex, mode ExposureMode) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetExposureMode, tlv.U32(schema.FieldCameraValue, uint32(mode)))
}

func (g *Gateway) SetISO(ctx context.Context, index PayloadIndex, iso ISO) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetISO, tlv.U32(schema.FieldCameraValue, uint32(iso)))
}

func (g *Gateway) SetShutterSpeed(ctx context.Context, index PayloadIndex, speed ShutterSpeed) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetShutterSpeed, tlv.U32(schema.FieldCameraValue, uint32(speed)))
}

func (g *Gateway) SetAperture(ctx context.Context, index PayloadIndex, aperture Aperture) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetAperture, tlv.U32(schema.FieldCameraValue, uint32(aperture)))
}

// SetFocusPoint takes x and y as fractions of the frame, 0..1.
func (g *Gateway) SetFocusPoint(ctx context.Context, index PayloadIndex, x, y float32) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetFocusPoint,
		tlv.F32(schema.FieldPointX, x),
		tlv.F32(schema.FieldPointY, y),
	)
}

func (g *Gateway) SetTapZoomPoint(ctx context.Context, index PayloadIndex, multiplier uint8, x, y float32) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraSetTapZoomPoint,
		tlv.U8(schema.FieldZoomMultiplier, multiplier),
		tlv.F32(schema.FieldPointX, x),
		tlv.F32(schema.FieldPointY, y),
	)
}

func (g *Gateway) StartZoom(ctx context.Context, index PayloadIndex, direction, speed uint8) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraStartZoom,
		tlv.U8(schema.FieldZoomDirection, direction),
		tlv.U8(schema.FieldZoomSpeed, speed),
	)
}

func (g *Gateway) StopZoom(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraStopZoom)
}

func (g *Gateway) StartShootSinglePhoto(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraShootSingle)
}

func (g *Gateway) StartShootBurstPhoto(ctx context.Context, index PayloadIndex, count PhotoBurstCount) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraShootBurst, tlv.U8(schema.FieldPhotoCount, uint8(count)))
}

func (g *Gateway) StartShootAEBPhoto(ctx context.Context, index PayloadIndex, count PhotoAEBCount) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraShootAEB, tlv.U8(schema.FieldPhotoCount, uint8(count)))
}

func (g *Gateway) StartShootIntervalPhoto(ctx context.Context, index PayloadIndex, data PhotoIntervalData) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraShootInterval,
		tlv.U8(schema.FieldPhotoCount, data.PhotoCount),
		tlv.U16(schema.FieldIntervalSeconds, data.IntervalSeconds),
	)
}

func (g *Gateway) ShootPhotoStop(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraShootStop)
}

func (g *Gateway) StartRecordVideo(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraStartRecord)
}

func (g *Gateway) StopRecordVideo(ctx context.Context, index PayloadIndex) gateway.AckResult {
	return g.camera(ctx, index, schema.CameraStopRecord)
}
