package vehicle

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

// CameraImage is one decoded RGB frame.
type CameraImage struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	View       uint8     `json:"view"`
	Counter    uint32    `json:"counter"`
	Data       []byte    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// FrameBuffer keeps the latest image and the latest raw stream chunk. Writers
// and readers both copy, so no caller ever holds memory the buffer reuses.
type FrameBuffer struct {
	mu       sync.Mutex
	image    CameraImage
	hasImage bool
	raw      []byte
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

func (b *FrameBuffer) SetImage(img CameraImage) {
	img.Data = slices.Clone(img.Data)
	b.mu.Lock()
	b.image = img
	b.hasImage = true
	b.mu.Unlock()
}

func (b *FrameBuffer) Image() (CameraImage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img := b.image
	img.Data = slices.Clone(b.image.Data)
	return img, b.hasImage
}

func (b *FrameBuffer) SetRaw(p []byte) {
	c := slices.Clone(p)
	b.mu.Lock()
	b.raw = c
	b.mu.Unlock()
}

func (b *FrameBuffer) Raw() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.raw)
}

func (b *FrameBuffer) handle(f frame.Frame) error {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return err
	}
	if err := schema.Validate(schema.KindCameraFrame, fields); err != nil {
		return err
	}
	format, _ := tlv.GetU8(fields, schema.FieldFrameFormat)
	data, _ := tlv.GetBytes(fields, schema.FieldImageData)
	switch format {
	case schema.FrameFormatRGB:
		w, _ := tlv.GetU16(fields, schema.FieldImageWidth)
		h, _ := tlv.GetU16(fields, schema.FieldImageHeight)
		if int(w)*int(h)*3 != len(data) {
			return fmt.Errorf("rgb frame %dx%d carries %d bytes", w, h, len(data))
		}
		view, _ := tlv.GetU8(fields, schema.FieldStreamView)
		counter, _ := tlv.GetU32(fields, schema.FieldFrameCounter)
		b.SetImage(CameraImage{
			Width:      int(w),
			Height:     int(h),
			View:       view,
			Counter:    counter,
			Data:       data,
			ReceivedAt: time.Now(),
		})
	case schema.FrameFormatH264:
		b.SetRaw(data)
	default:
		return fmt.Errorf("unknown frame format %d", format)
	}
	return nil
}
