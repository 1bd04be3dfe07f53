package schema

import (
	"fmt"

	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message kinds carried in frame.Header.Kind.
const (
	KindActivate uint32 = 1

	KindSubscribe   uint32 = 10
	KindUnsubscribe uint32 = 11
	KindTelemetry   uint32 = 12

	KindFlightAction    uint32 = 20
	KindSetHome         uint32 = 21
	KindSetHomeAltitude uint32 = 22
	KindSetAvoid        uint32 = 23
	KindPositionOffset  uint32 = 24

	KindCamera uint32 = 30

	KindGimbalRotate uint32 = 40
	KindGimbalReset  uint32 = 41
	KindGimbalQuery  uint32 = 42

	KindMFIOOutput uint32 = 50
	KindMFIOInput  uint32 = 51
	KindMFIOStop   uint32 = 52
	KindMFIOStatus uint32 = 53

	KindStreamStart uint32 = 60
	KindStreamStop  uint32 = 61
	KindCameraFrame uint32 = 62
)

// Field IDs.
const (
	FieldAckCode   uint16 = 1
	FieldAckReason uint16 = 2

	FieldAppID         uint16 = 10
	FieldActivationKey uint16 = 11
	FieldFirmware      uint16 = 12

	FieldPackageIndex  uint16 = 20
	FieldFrequency     uint16 = 21
	FieldTopics        uint16 = 22
	FieldTelemetryData uint16 = 23
	FieldTelemetrySeq  uint16 = 24

	FieldFlightAction uint16 = 30
	FieldAltitude     uint16 = 31
	FieldAvoidEnable  uint16 = 32
	FieldOffsetX      uint16 = 33
	FieldOffsetY      uint16 = 34
	FieldOffsetZ      uint16 = 35
	FieldOffsetYaw    uint16 = 36
	FieldPosThreshold uint16 = 37
	FieldYawThreshold uint16 = 38

	FieldPayloadIndex    uint16 = 40
	FieldCameraOp        uint16 = 41
	FieldCameraValue     uint16 = 42
	FieldPointX          uint16 = 43
	FieldPointY          uint16 = 44
	FieldZoomMultiplier  uint16 = 45
	FieldZoomDirection   uint16 = 46
	FieldZoomSpeed       uint16 = 47
	FieldPhotoCount      uint16 = 48
	FieldIntervalSeconds uint16 = 49

	FieldGimbalPitch  uint16 = 50
	FieldGimbalRoll   uint16 = 51
	FieldGimbalYaw    uint16 = 52
	FieldGimbalTime   uint16 = 53
	FieldGimbalMode   uint16 = 54
	FieldGimbalStatus uint16 = 55

	FieldMFIOMode     uint16 = 60
	FieldMFIOChannel  uint16 = 61
	FieldMFIOOnTimeUS uint16 = 62
	FieldMFIOFreq     uint16 = 63
	FieldMFIOValue    uint16 = 64
	FieldMFIOBlock    uint16 = 65

	FieldStreamH264   uint16 = 70
	FieldStreamView   uint16 = 71
	FieldImageWidth   uint16 = 72
	FieldImageHeight  uint16 = 73
	FieldImageData    uint16 = 74
	FieldFrameFormat  uint16 = 75
	FieldFrameCounter uint16 = 76
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Kind    uint32
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: kind=%d: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%d field=%d: %s", e.Kind, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	KindActivate: {
		{FieldAppID, tlv.TypeU32},
		{FieldActivationKey, tlv.TypeString},
	},
	KindSubscribe: {
		{FieldPackageIndex, tlv.TypeU8},
		{FieldFrequency, tlv.TypeU16},
		{FieldTopics, tlv.TypeBytes},
	},
	KindUnsubscribe: {
		{FieldPackageIndex, tlv.TypeU8},
	},
	KindTelemetry: {
		{FieldPackageIndex, tlv.TypeU8},
		{FieldTelemetryData, tlv.TypeBytes},
	},
	KindFlightAction: {
		{FieldFlightAction, tlv.TypeU8},
	},
	KindSetHome:         {},
	KindSetHomeAltitude: {{FieldAltitude, tlv.TypeU16}},
	KindSetAvoid:        {{FieldAvoidEnable, tlv.TypeBool}},
	KindPositionOffset: {
		{FieldOffsetX, tlv.TypeF32},
		{FieldOffsetY, tlv.TypeF32},
		{FieldOffsetZ, tlv.TypeF32},
		{FieldOffsetYaw, tlv.TypeF32},
	},
	KindCamera: {
		{FieldPayloadIndex, tlv.TypeU8},
		{FieldCameraOp, tlv.TypeU8},
	},
	KindGimbalRotate: {
		{FieldPayloadIndex, tlv.TypeU8},
		{FieldGimbalPitch, tlv.TypeF32},
		{FieldGimbalRoll, tlv.TypeF32},
		{FieldGimbalYaw, tlv.TypeF32},
		{FieldGimbalTime, tlv.TypeF32},
		{FieldGimbalMode, tlv.TypeU8},
	},
	KindGimbalReset: {{FieldPayloadIndex, tlv.TypeU8}},
	KindGimbalQuery: {{FieldPayloadIndex, tlv.TypeU8}},
	KindMFIOOutput: {
		{FieldMFIOMode, tlv.TypeU8},
		{FieldMFIOChannel, tlv.TypeU8},
		{FieldMFIOOnTimeUS, tlv.TypeU32},
		{FieldMFIOFreq, tlv.TypeU16},
		{FieldMFIOValue, tlv.TypeU32},
		{FieldMFIOBlock, tlv.TypeBool},
	},
	KindMFIOInput: {
		{FieldMFIOMode, tlv.TypeU8},
		{FieldMFIOChannel, tlv.TypeU8},
		{FieldMFIOBlock, tlv.TypeBool},
	},
	KindMFIOStop: {
		{FieldMFIOMode, tlv.TypeU8},
		{FieldMFIOChannel, tlv.TypeU8},
	},
	KindMFIOStatus: {
		{FieldMFIOChannel, tlv.TypeU8},
		{FieldMFIOValue, tlv.TypeU32},
	},
	KindStreamStart: {
		{FieldStreamH264, tlv.TypeBool},
		{FieldStreamView, tlv.TypeU8},
	},
	KindStreamStop: {
		{FieldStreamH264, tlv.TypeBool},
		{FieldStreamView, tlv.TypeU8},
	},
	KindCameraFrame: {
		{FieldFrameFormat, tlv.TypeU8},
		{FieldImageData, tlv.TypeBytes},
	},
}

var kindNames = map[uint32]string{
	KindActivate:        "activate",
	KindSubscribe:       "subscribe",
	KindUnsubscribe:     "unsubscribe",
	KindTelemetry:       "telemetry",
	KindFlightAction:    "flight_action",
	KindSetHome:         "set_home",
	KindSetHomeAltitude: "set_home_altitude",
	KindSetAvoid:        "set_avoid",
	KindPositionOffset:  "position_offset",
	KindCamera:          "camera",
	KindGimbalRotate:    "gimbal_rotate",
	KindGimbalReset:     "gimbal_reset",
	KindGimbalQuery:     "gimbal_query",
	KindMFIOOutput:      "mfio_output",
	KindMFIOInput:       "mfio_input",
	KindMFIOStop:        "mfio_stop",
	KindMFIOStatus:      "mfio_status",
	KindStreamStart:     "stream_start",
	KindStreamStop:      "stream_stop",
	KindCameraFrame:     "camera_frame",
}

// KindName returns a stable label for metrics and logs.
func KindName(kind uint32) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind_%d", kind)
}

// Validate enforces required fields and required field types for a request kind.
// Unknown fields are ignored.
func Validate(kind uint32, fields []tlv.Field) error {
	reqs, ok := requirements[kind]
	if !ok {
		log.Error().Uint32("kind", kind).Msg("schema.Validate unknown kind")
		return ValidationError{Kind: kind, Reason: "unknown kind"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("kind", kind).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{Kind: kind, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("kind", kind).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{Kind: kind, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Str("kind", KindName(kind)).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}

// ValidateResponse checks the fields every non-nack response carries.
func ValidateResponse(kind uint32, fields []tlv.Field) error {
	f, found := tlv.GetField(fields, FieldAckCode)
	if !found {
		return ValidationError{Kind: kind, FieldID: FieldAckCode, Reason: "missing required field"}
	}
	if f.Type != tlv.TypeU32 {
		return ValidationError{Kind: kind, FieldID: FieldAckCode, Reason: "type mismatch"}
	}
	return nil
}

// Flight actions carried in FieldFlightAction.
const (
	ActionTakeoff        uint8 = 1
	ActionLanding        uint8 = 2
	ActionGoHome         uint8 = 3
	ActionConfirmLanding uint8 = 4
)

// Camera operations carried in FieldCameraOp.
const (
	CameraSetEV uint8 = iota + 1
	CameraSetExposureMode
	CameraSetISO
	CameraSetShutterSpeed
	CameraSetAperture
	CameraSetFocusPoint
	CameraSetTapZoomPoint
	CameraStartZoom
	CameraStopZoom
	CameraShootSingle
	CameraShootBurst
	CameraShootAEB
	CameraShootInterval
	CameraShootStop
	CameraStartRecord
	CameraStopRecord
)

// MFIO channel modes carried in FieldMFIOMode.
const (
	MFIOModePWM     uint8 = 0
	MFIOModeGPIOOut uint8 = 1
	MFIOModeGPIOIn  uint8 = 2
	MFIOModeADC     uint8 = 3
)

// Camera frame formats carried in FieldFrameFormat.
const (
	FrameFormatRGB  uint8 = 0
	FrameFormatH264 uint8 = 1
)
