package vehicle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/link"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// ErrInitFailed means the vehicle could not be brought up; nothing else can run.
var ErrInitFailed = errors.New("vehicle: init failed")

// Openers supplies the links Setup brings up. ACM is only used with advanced sensing.
type Openers struct {
	Main link.Opener
	ACM  link.Opener
}

// SerialOpeners opens the configured UART and, when set, the ACM port.
func SerialOpeners(opts Options) Openers {
	out := Openers{
		Main: func(context.Context) (link.Link, error) {
			return link.OpenSerial(link.SerialConfig{Device: opts.Device, BaudRate: opts.BaudRate})
		},
	}
	if opts.DeviceACM != "" {
		out.ACM = func(context.Context) (link.Link, error) {
			return link.OpenSerial(link.SerialConfig{Device: opts.DeviceACM, BaudRate: DefaultACMBaudRate})
		}
	}
	return out
}

// Setup is the bring-up capability: opening links and activating the app.
type Setup struct {
	opts    Options
	openers Openers
}

func NewSetup(opts Options, openers Openers) *Setup {
	return &Setup{opts: opts, openers: openers}
}

// OpenLinks opens the main link and, with advanced sensing, the ACM link.
func (s *Setup) OpenLinks(ctx context.Context) (link.Link, []link.Link, error) {
	t := s.opts.Timing
	main, err := link.Open(ctx, s.openers.Main, t.LinkOpenAttempts, t.Backoff)
	if err != nil {
		return nil, nil, fmt.Errorf("open link: %w", err)
	}
	if !s.opts.AdvancedSensing || s.openers.ACM == nil {
		return main, nil, nil
	}
	acm, err := link.Open(ctx, s.openers.ACM, t.LinkOpenAttempts, t.Backoff)
	if err != nil {
		_ = main.Close()
		return nil, nil, fmt.Errorf("open acm link: %w", err)
	}
	return main, []link.Link{acm}, nil
}

// Activate registers the app with the flight controller.
func (s *Setup) Activate(ctx context.Context, corr *gateway.Correlator) (string, gateway.AckResult) {
	res := corr.Send(ctx, gateway.Request{
		Kind: schema.KindActivate,
		Fields: []tlv.Field{
			tlv.U32(schema.FieldAppID, s.opts.AppID),
			tlv.String(schema.FieldActivationKey, activationKey(s.opts.EncKey)),
		},
		Timeout: s.opts.Timing.AckTimeout,
	})
	if !res.OK() {
		return "", res
	}
	firmware, _ := tlv.GetString(res.Payload(), schema.FieldFirmware)
	return firmware, res
}

func activationKey(encKey string) string {
	sum := sha256.Sum256([]byte(encKey))
	return hex.EncodeToString(sum[:])
}

// InitVehicle opens the links, starts the receive loops and activates. Any
// failure is wrapped in ErrInitFailed and leaves nothing open.
func InitVehicle(ctx context.Context, opts Options, openers Openers) (*Gateway, error) {
	opts = opts.WithDefaults()
	setup := NewSetup(opts, openers)

	main, extra, err := setup.OpenLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	sess := NewSession(opts, main, extra...)

	firmware, res := setup.Activate(ctx, sess.Correlator())
	if !res.OK() {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: activation: %w", ErrInitFailed, res.Err())
	}
	sess.firmware = firmware
	log.Info().
		Uint32("app_id", opts.AppID).
		Str("firmware", firmware).
		Bool("advanced_sensing", opts.AdvancedSensing).
		Msg("vehicle.InitVehicle activated")
	return NewGateway(sess, setup), nil
}
