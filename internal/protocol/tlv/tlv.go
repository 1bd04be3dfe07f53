package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrFieldMissing     = errors.New("tlv: field missing")
)

// Type IDs from the link field contract.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeI32    uint8 = 8
	TypeF32    uint8 = 9
	TypeF64    uint8 = 10
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}

// Clone deep-copies fields so callers can hand them out without aliasing.
func Clone(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		v := make([]byte, len(f.Value))
		copy(v, f.Value)
		out[i] = Field{ID: f.ID, Type: f.Type, Value: v}
	}
	return out
}

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U16(id uint16, v uint16) Field {
	return Field{ID: id, Type: TypeU16, Value: binary.BigEndian.AppendUint16(nil, v)}
}

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func U64(id uint16, v uint64) Field {
	return Field{ID: id, Type: TypeU64, Value: binary.BigEndian.AppendUint64(nil, v)}
}

func I32(id uint16, v int32) Field {
	return Field{ID: id, Type: TypeI32, Value: binary.BigEndian.AppendUint32(nil, uint32(v))}
}

func F32(id uint16, v float32) Field {
	return Field{ID: id, Type: TypeF32, Value: binary.BigEndian.AppendUint32(nil, math.Float32bits(v))}
}

func F64(id uint16, v float64) Field {
	return Field{ID: id, Type: TypeF64, Value: binary.BigEndian.AppendUint64(nil, math.Float64bits(v))}
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: invalid u32 length: %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// fixed looks up id and checks its type and width.
func fixed(fields []Field, id uint16, typ uint8, width int) ([]byte, error) {
	f, ok := GetField(fields, id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFieldMissing, id)
	}
	if err := MustType(f, typ); err != nil {
		return nil, err
	}
	if width >= 0 && len(f.Value) != width {
		return nil, fmt.Errorf("tlv: field %d invalid length: %d", id, len(f.Value))
	}
	return f.Value, nil
}

func GetU8(fields []Field, id uint16) (uint8, error) {
	b, err := fixed(fields, id, TypeU8, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func GetU16(fields []Field, id uint16) (uint16, error) {
	b, err := fixed(fields, id, TypeU16, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func GetU32(fields []Field, id uint16) (uint32, error) {
	b, err := fixed(fields, id, TypeU32, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func GetU64(fields []Field, id uint16) (uint64, error) {
	b, err := fixed(fields, id, TypeU64, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func GetI32(fields []Field, id uint16) (int32, error) {
	b, err := fixed(fields, id, TypeI32, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func GetF32(fields []Field, id uint16) (float32, error) {
	b, err := fixed(fields, id, TypeF32, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func GetF64(fields []Field, id uint16) (float64, error) {
	b, err := fixed(fields, id, TypeF64, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func GetBool(fields []Field, id uint16) (bool, error) {
	b, err := fixed(fields, id, TypeBool, 1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("tlv: field %d invalid bool value: %d", id, b[0])
	}
}

func GetString(fields []Field, id uint16) (string, error) {
	b, err := fixed(fields, id, TypeString, -1)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func GetBytes(fields []Field, id uint16) ([]byte, error) {
	b, err := fixed(fields, id, TypeBytes, -1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
