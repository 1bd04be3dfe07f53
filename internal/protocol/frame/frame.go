package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	Magic   uint32 = 0x4F53444B // "OSDK"
	Version uint16 = 1

	HeaderLen  = 24
	TrailerLen = 4

	FlagResponse uint16 = 0x01
	FlagNack     uint16 = 0x02
	// FlagCorrupt is never written; the receiver sets it on frames whose checksum failed.
	FlagCorrupt uint16 = 0x80
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrChecksum           = errors.New("frame: checksum mismatch")
	ErrSyncLost           = errors.New("frame: magic not found within sync window")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	RequestID  uint64
	Kind       uint32
	PayloadLen uint32
}

// Frame is one complete link message.
type Frame struct {
	Header  Header
	Payload []byte
}

func (f Frame) IsResponse() bool { return f.Header.Flags&FlagResponse != 0 }
func (f Frame) IsNack() bool     { return f.Header.Flags&FlagNack != 0 }
func (f Frame) IsCorrupt() bool  { return f.Header.Flags&FlagCorrupt != 0 }

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
	// MaxSyncSkip bounds how many bytes ReadFrame discards while hunting for magic.
	MaxSyncSkip int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024 * 1024,
		MaxSyncSkip:     64 * 1024,
	}
}

// ReadFrame reads the next frame, skipping any bytes before a valid magic.
// A checksum failure returns the decoded frame with FlagCorrupt set and ErrChecksum.
func ReadFrame(r *bufio.Reader, limits Limits) (Frame, error) {
	if err := syncMagic(r, limits.MaxSyncSkip); err != nil {
		return Frame{}, err
	}

	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	body := make([]byte, int(h.PayloadLen)+TrailerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	payload := body[:h.PayloadLen]
	want := binary.BigEndian.Uint32(body[h.PayloadLen:])
	h.Flags &^= FlagCorrupt
	f := Frame{Header: h, Payload: payload}
	if checksum(fixed[:], payload) != want {
		f.Header.Flags |= FlagCorrupt
		return f, ErrChecksum
	}
	return f, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.Flags &^= FlagCorrupt
	h.PayloadLen = uint32(len(f.Payload))

	hb := EncodeHeader(h)
	buf := make([]byte, 0, HeaderLen+len(f.Payload)+TrailerLen)
	buf = append(buf, hb...)
	buf = append(buf, f.Payload...)
	buf = binary.BigEndian.AppendUint32(buf, checksum(hb, f.Payload))
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint64(buf[8:16], h.RequestID)
	binary.BigEndian.PutUint32(buf[16:20], h.Kind)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Flags:      binary.BigEndian.Uint16(b[6:8]),
		RequestID:  binary.BigEndian.Uint64(b[8:16]),
		Kind:       binary.BigEndian.Uint32(b[16:20]),
		PayloadLen: binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

// syncMagic discards bytes until the next four bytes in r are the frame magic.
func syncMagic(r *bufio.Reader, maxSkip int) error {
	skipped := 0
	for {
		peek, err := r.Peek(4)
		if err != nil {
			if len(peek) > 0 && errors.Is(err, io.EOF) {
				return ErrShortHeader
			}
			return err
		}
		if binary.BigEndian.Uint32(peek) == Magic {
			return nil
		}
		if maxSkip > 0 && skipped >= maxSkip {
			return ErrSyncLost
		}
		if _, err := r.Discard(1); err != nil {
			return err
		}
		skipped++
	}
}

func checksum(header, payload []byte) uint32 {
	sum := crc32.NewIEEE()
	_, _ = sum.Write(header)
	_, _ = sum.Write(payload)
	return sum.Sum32()
}
