package vehicle

import (
	"context"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

// Camera stream views.
const (
	ViewFPV      uint8 = 0
	ViewMainCam  uint8 = 1
	ViewVGAFront uint8 = 2
	ViewVGADown  uint8 = 3
)

func (g *Gateway) stream(ctx context.Context, kind uint32, h264 bool, view uint8) gateway.AckResult {
	if !g.sess.opts.AdvancedSensing {
		return gateway.Rejected(0, kind, gateway.CodeUnsupported, "advanced sensing disabled")
	}
	return g.send(ctx, kind,
		tlv.Bool(schema.FieldStreamH264, h264),
		tlv.U8(schema.FieldStreamView, view),
	)
}

// StartStream asks for RGB frames (h264=false) or an H.264 stream from view.
func (g *Gateway) StartStream(ctx context.Context, h264 bool, view uint8) gateway.AckResult {
	return g.stream(ctx, schema.KindStreamStart, h264, view)
}

func (g *Gateway) StopStream(ctx context.Context, h264 bool, view uint8) gateway.AckResult {
	return g.stream(ctx, schema.KindStreamStop, h264, view)
}

// CameraImage returns a copy of the latest RGB frame.
func (g *Gateway) CameraImage() (CameraImage, bool) {
	return g.sess.frames.Image()
}

// CameraRawData returns a copy of the latest H.264 chunk.
func (g *Gateway) CameraRawData() []byte {
	return g.sess.frames.Raw()
}

func (g *Gateway) SetCameraImage(img CameraImage) {
	g.sess.frames.SetImage(img)
}

func (g *Gateway) SetCameraRawData(p []byte) {
	g.sess.frames.SetRaw(p)
}
