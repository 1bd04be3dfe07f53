package sim

import (
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
)

const maxPayloadIndex = 2

func (v *Vehicle) camera(f frame.Frame, fields []tlv.Field) {
	index, _ := tlv.GetU8(fields, schema.FieldPayloadIndex)
	op, _ := tlv.GetU8(fields, schema.FieldCameraOp)
	if index > maxPayloadIndex {
		v.reply(f, f.Header.Kind, CodeRejected, "no camera at payload index")
		return
	}
	if op < schema.CameraSetEV || op > schema.CameraStopRecord {
		v.reply(f, f.Header.Kind, CodeUnsupported, "unknown camera operation")
		return
	}
	var echo []tlv.Field
	if value, err := tlv.GetU32(fields, schema.FieldCameraValue); err == nil {
		echo = append(echo, tlv.U32(schema.FieldCameraValue, value))
	}
	v.reply(f, f.Header.Kind, CodeOK, "", echo...)
}

func (v *Vehicle) gimbal(f frame.Frame, fields []tlv.Field) {
	index, _ := tlv.GetU8(fields, schema.FieldPayloadIndex)
	if index > maxPayloadIndex {
		v.reply(f, f.Header.Kind, CodeRejected, "no gimbal at payload index")
		return
	}
	v.mu.Lock()
	switch f.Header.Kind {
	case schema.KindGimbalRotate:
		pitch, _ := tlv.GetF32(fields, schema.FieldGimbalPitch)
		roll, _ := tlv.GetF32(fields, schema.FieldGimbalRoll)
		yaw, _ := tlv.GetF32(fields, schema.FieldGimbalYaw)
		mode, _ := tlv.GetU8(fields, schema.FieldGimbalMode)
		if mode == 1 {
			v.st.gimbal = telemetry.Vector3f{X: v.st.gimbal.X + pitch, Y: v.st.gimbal.Y + roll, Z: v.st.gimbal.Z + yaw}
		} else {
			v.st.gimbal = telemetry.Vector3f{X: pitch, Y: roll, Z: yaw}
		}
	case schema.KindGimbalReset:
		v.st.gimbal = telemetry.Vector3f{}
	}
	g := v.st.gimbal
	v.mu.Unlock()

	v.reply(f, f.Header.Kind, CodeOK, "",
		tlv.F32(schema.FieldGimbalPitch, g.X),
		tlv.F32(schema.FieldGimbalRoll, g.Y),
		tlv.F32(schema.FieldGimbalYaw, g.Z),
		tlv.U32(schema.FieldGimbalStatus, 0),
	)
}

func (v *Vehicle) mfioRequest(f frame.Frame, fields []tlv.Field) {
	mode, _ := tlv.GetU8(fields, schema.FieldMFIOMode)
	channel, _ := tlv.GetU8(fields, schema.FieldMFIOChannel)
	block, _ := tlv.GetBool(fields, schema.FieldMFIOBlock)
	if mode > schema.MFIOModeADC {
		v.reply(f, f.Header.Kind, CodeRejected, "invalid mfio mode")
		return
	}

	v.mu.Lock()
	switch f.Header.Kind {
	case schema.KindMFIOOutput:
		value, _ := tlv.GetU32(fields, schema.FieldMFIOValue)
		v.mfio[channel] = value
	case schema.KindMFIOStop:
		delete(v.mfio, channel)
	}
	value := v.mfio[channel]
	v.mu.Unlock()

	v.reply(f, f.Header.Kind, CodeOK, "", tlv.U32(schema.FieldMFIOValue, value))
	if !block || f.Header.Kind == schema.KindMFIOStop {
		return
	}
	if !v.sleep(v.cfg.MFIOSettle) {
		return
	}
	v.reply(f, schema.KindMFIOStatus, CodeOK, "",
		tlv.U8(schema.FieldMFIOChannel, channel),
		tlv.U32(schema.FieldMFIOValue, value),
	)
}

func (v *Vehicle) stream(f frame.Frame, fields []tlv.Field) {
	h264, _ := tlv.GetBool(fields, schema.FieldStreamH264)
	view, _ := tlv.GetU8(fields, schema.FieldStreamView)
	format := schema.FrameFormatRGB
	if h264 {
		format = schema.FrameFormatH264
	}
	key := view<<1 | format
	v.mu.Lock()
	if f.Header.Kind == schema.KindStreamStart {
		v.streaming[key] = true
	} else {
		delete(v.streaming, key)
	}
	v.mu.Unlock()
	v.reply(f, f.Header.Kind, CodeOK, "")
}

// streamFrames pushes a synthetic frame per active stream every FrameInterval.
func (v *Vehicle) streamFrames() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
		}
		v.mu.Lock()
		keys := make([]uint8, 0, len(v.streaming))
		for k := range v.streaming {
			keys = append(keys, k)
		}
		v.mu.Unlock()
		for _, key := range keys {
			v.mu.Lock()
			v.frameSeq++
			seq := v.frameSeq
			v.mu.Unlock()
			v.send(syntheticFrame(key>>1, key&1, seq))
		}
	}
}

func syntheticFrame(view, format uint8, seq uint32) frame.Frame {
	const width, height = 8, 6
	fields := []tlv.Field{
		tlv.U8(schema.FieldFrameFormat, format),
		tlv.U8(schema.FieldStreamView, view),
		tlv.U32(schema.FieldFrameCounter, seq),
	}
	if format == schema.FrameFormatRGB {
		img := make([]byte, width*height*3)
		for i := range img {
			img[i] = byte(int(seq) + i)
		}
		fields = append(fields,
			tlv.U16(schema.FieldImageWidth, width),
			tlv.U16(schema.FieldImageHeight, height),
			tlv.Bytes(schema.FieldImageData, img),
		)
	} else {
		// Annex-B start code followed by an access unit delimiter.
		fields = append(fields, tlv.Bytes(schema.FieldImageData, []byte{0, 0, 0, 1, 0x09, 0xF0, byte(seq)}))
	}
	return frame.Frame{
		Header:  frame.Header{Kind: schema.KindCameraFrame},
		Payload: tlv.EncodeFields(fields),
	}
}
