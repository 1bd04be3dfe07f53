// Package telemetry describes the vehicle topics a subscription package can
// carry and how their bytes are laid out.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUnknownTopic  = errors.New("telemetry: unknown topic")
	ErrShortData     = errors.New("telemetry: short topic data")
	ErrTrailingData  = errors.New("telemetry: trailing topic data")
	ErrValueMismatch = errors.New("telemetry: value type does not match topic")
)

// TopicName identifies one telemetry topic on the wire.
type TopicName uint8

const (
	TopicQuaternion TopicName = iota + 1
	TopicVelocity
	TopicGPSFused
	TopicHeightFusion
	TopicStatusFlight
	TopicStatusDisplayMode
	TopicBatteryInfo
	TopicGimbalAngles
)

// Flight status values of TopicStatusFlight.
const (
	FlightStatusStopped  uint8 = 0
	FlightStatusOnGround uint8 = 1
	FlightStatusInAir    uint8 = 2
)

// Display modes of TopicStatusDisplayMode used by monitored actions.
const (
	ModeManual           uint8 = 0
	ModeAttitude         uint8 = 1
	ModePGPS             uint8 = 6
	ModeAssistedTakeoff  uint8 = 10
	ModeAutoTakeoff      uint8 = 11
	ModeAutoLanding      uint8 = 12
	ModeNaviGoHome       uint8 = 15
	ModeNaviSDKCtrl      uint8 = 17
	ModeForceAutoLanding uint8 = 33
	ModeEngineStart      uint8 = 41
)

type Quaternion struct {
	Q0, Q1, Q2, Q3 float32
}

type Vector3f struct {
	X, Y, Z float32
}

// GPSFused holds latitude and longitude in radians and altitude in meters.
type GPSFused struct {
	Longitude         float64
	Latitude          float64
	Altitude          float32
	VisibleSatellites uint16
}

type BatteryInfo struct {
	CapacityMAh uint32
	VoltageMV   int32
	CurrentMA   int32
	Percentage  uint8
}

// TopicInfo is one catalog entry.
type TopicInfo struct {
	Name  TopicName `json:"-"`
	Label string    `json:"label"`
	Size  int       `json:"size"`
	Type  string    `json:"type"`
	Unit  string    `json:"unit"`
}

var catalog = map[TopicName]TopicInfo{
	TopicQuaternion:        {TopicQuaternion, "quaternion", 16, "Quaternion", "unitless"},
	TopicVelocity:          {TopicVelocity, "velocity", 12, "Vector3f", "m/s"},
	TopicGPSFused:          {TopicGPSFused, "gps_fused", 22, "GPSFused", "rad,rad,m"},
	TopicHeightFusion:      {TopicHeightFusion, "height_fusion", 4, "float32", "m"},
	TopicStatusFlight:      {TopicStatusFlight, "status_flight", 1, "uint8", "enum"},
	TopicStatusDisplayMode: {TopicStatusDisplayMode, "status_display_mode", 1, "uint8", "enum"},
	TopicBatteryInfo:       {TopicBatteryInfo, "battery_info", 13, "BatteryInfo", "mAh,mV,mA,%"},
	TopicGimbalAngles:      {TopicGimbalAngles, "gimbal_angles", 12, "Vector3f", "deg"},
}

func (n TopicName) String() string {
	if info, ok := catalog[n]; ok {
		return info.Label
	}
	return fmt.Sprintf("topic_%d", uint8(n))
}

func Lookup(name TopicName) (TopicInfo, bool) {
	info, ok := catalog[name]
	return info, ok
}

// ByLabel resolves a catalog label such as "gps_fused".
func ByLabel(label string) (TopicName, bool) {
	for name, info := range catalog {
		if info.Label == label {
			return name, true
		}
	}
	return 0, false
}

// Catalog returns every known topic ordered by wire id.
func Catalog() []TopicInfo {
	out := make([]TopicInfo, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TopicValue is one decoded topic in package order.
type TopicValue struct {
	Topic TopicName
	Value any
}

// EncodeTopicList packs topic ids one byte each, as sent in a subscribe request.
func EncodeTopicList(topics []TopicName) []byte {
	out := make([]byte, len(topics))
	for i, t := range topics {
		out[i] = byte(t)
	}
	return out
}

func DecodeTopicList(b []byte) ([]TopicName, error) {
	out := make([]TopicName, len(b))
	for i, v := range b {
		name := TopicName(v)
		if _, ok := catalog[name]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, v)
		}
		out[i] = name
	}
	return out, nil
}

// DecodePackage splits data into topics in declared order. Data must cover
// every topic exactly.
func DecodePackage(topics []TopicName, data []byte) ([]TopicValue, error) {
	out := make([]TopicValue, 0, len(topics))
	off := 0
	for _, t := range topics {
		info, ok := catalog[t]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, t)
		}
		if len(data)-off < info.Size {
			return nil, fmt.Errorf("%w: %s", ErrShortData, info.Label)
		}
		v, err := DecodeTopic(t, data[off:off+info.Size])
		if err != nil {
			return nil, err
		}
		out = append(out, TopicValue{Topic: t, Value: v})
		off += info.Size
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-off)
	}
	return out, nil
}

// EncodePackage is the inverse of DecodePackage.
func EncodePackage(values []TopicValue) ([]byte, error) {
	var out []byte
	for _, tv := range values {
		b, err := EncodeTopic(tv.Topic, tv.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func DecodeTopic(name TopicName, b []byte) (any, error) {
	info, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, name)
	}
	if len(b) < info.Size {
		return nil, fmt.Errorf("%w: %s", ErrShortData, info.Label)
	}
	le := binary.LittleEndian
	switch name {
	case TopicQuaternion:
		return Quaternion{f32(b[0:]), f32(b[4:]), f32(b[8:]), f32(b[12:])}, nil
	case TopicVelocity, TopicGimbalAngles:
		return Vector3f{f32(b[0:]), f32(b[4:]), f32(b[8:])}, nil
	case TopicGPSFused:
		return GPSFused{
			Longitude:         math.Float64frombits(le.Uint64(b[0:])),
			Latitude:          math.Float64frombits(le.Uint64(b[8:])),
			Altitude:          f32(b[16:]),
			VisibleSatellites: le.Uint16(b[20:]),
		}, nil
	case TopicHeightFusion:
		return f32(b), nil
	case TopicStatusFlight, TopicStatusDisplayMode:
		return b[0], nil
	case TopicBatteryInfo:
		return BatteryInfo{
			CapacityMAh: le.Uint32(b[0:]),
			VoltageMV:   int32(le.Uint32(b[4:])),
			CurrentMA:   int32(le.Uint32(b[8:])),
			Percentage:  b[12],
		}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, name)
}

func EncodeTopic(name TopicName, v any) ([]byte, error) {
	info, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, name)
	}
	b := make([]byte, info.Size)
	le := binary.LittleEndian
	mismatch := fmt.Errorf("%w: %s got %T", ErrValueMismatch, info.Label, v)
	switch name {
	case TopicQuaternion:
		q, ok := v.(Quaternion)
		if !ok {
			return nil, mismatch
		}
		putF32(b[0:], q.Q0)
		putF32(b[4:], q.Q1)
		putF32(b[8:], q.Q2)
		putF32(b[12:], q.Q3)
	case TopicVelocity, TopicGimbalAngles:
		vec, ok := v.(Vector3f)
		if !ok {
			return nil, mismatch
		}
		putF32(b[0:], vec.X)
		putF32(b[4:], vec.Y)
		putF32(b[8:], vec.Z)
	case TopicGPSFused:
		g, ok := v.(GPSFused)
		if !ok {
			return nil, mismatch
		}
		le.PutUint64(b[0:], math.Float64bits(g.Longitude))
		le.PutUint64(b[8:], math.Float64bits(g.Latitude))
		putF32(b[16:], g.Altitude)
		le.PutUint16(b[20:], g.VisibleSatellites)
	case TopicHeightFusion:
		h, ok := v.(float32)
		if !ok {
			return nil, mismatch
		}
		putF32(b, h)
	case TopicStatusFlight, TopicStatusDisplayMode:
		s, ok := v.(uint8)
		if !ok {
			return nil, mismatch
		}
		b[0] = s
	case TopicBatteryInfo:
		bat, ok := v.(BatteryInfo)
		if !ok {
			return nil, mismatch
		}
		le.PutUint32(b[0:], bat.CapacityMAh)
		le.PutUint32(b[4:], uint32(bat.VoltageMV))
		le.PutUint32(b[8:], uint32(bat.CurrentMA))
		b[12] = bat.Percentage
	}
	return b, nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
