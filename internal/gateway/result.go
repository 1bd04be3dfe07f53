package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

var (
	ErrAckTimeout      = errors.New("gateway: ack timeout")
	ErrLinkError       = errors.New("gateway: link error")
	ErrRejected        = errors.New("gateway: rejected")
	ErrPhysicalTimeout = errors.New("gateway: physical action timeout")
)

// Outcome tags an AckResult.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeLinkError
	OutcomeRejected
	OutcomePhysicalTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "ack_timeout"
	case OutcomeLinkError:
		return "link_error"
	case OutcomeRejected:
		return "rejected"
	case OutcomePhysicalTimeout:
		return "physical_timeout"
	default:
		return "unknown"
	}
}

func (o Outcome) sentinel() error {
	switch o {
	case OutcomeTimeout:
		return ErrAckTimeout
	case OutcomeLinkError:
		return ErrLinkError
	case OutcomeRejected:
		return ErrRejected
	case OutcomePhysicalTimeout:
		return ErrPhysicalTimeout
	default:
		return nil
	}
}

// Codes for outcomes decided on this side of the link. Vehicle codes stay below 0xF000.
const (
	CodeOK              uint32 = 0
	CodeInvalidArgument uint32 = 0xF001
	CodeIndexInUse      uint32 = 0xF002
	CodeIndexNotActive  uint32 = 0xF003
	CodeUnsupported     uint32 = 0xF004
	CodeTransmit        uint32 = 0xF010
	CodeCorrupt         uint32 = 0xF011
	CodeMalformed       uint32 = 0xF012
	CodeNack            uint32 = 0xF013
)

// AckResult is the terminal outcome of one request. Its payload is private so
// a result cannot be changed after it is built.
type AckResult struct {
	RequestID uint64
	Kind      uint32
	Outcome   Outcome
	Code      uint32
	Reason    string
	Elapsed   time.Duration

	fields []tlv.Field
}

func (r AckResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Payload returns a copy of the response fields (empty unless Success).
func (r AckResult) Payload() []tlv.Field {
	return tlv.Clone(r.fields)
}

// Err returns nil on success and an *AckError otherwise.
func (r AckResult) Err() error {
	if r.OK() {
		return nil
	}
	return &AckError{Result: r}
}

func (r AckResult) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("request=%d kind=%d outcome=%s code=%d", r.RequestID, r.Kind, r.Outcome, r.Code)
	}
	return fmt.Sprintf("request=%d kind=%d outcome=%s code=%d reason=%q", r.RequestID, r.Kind, r.Outcome, r.Code, r.Reason)
}

// AckError wraps a failed AckResult; errors.Is matches the outcome sentinel.
type AckError struct {
	Result AckResult
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%v: %s", e.Result.Outcome.sentinel(), e.Result.String())
}

func (e *AckError) Unwrap() error {
	return e.Result.Outcome.sentinel()
}

// ResultOf extracts the AckResult carried by err, if any.
func ResultOf(err error) (AckResult, bool) {
	var ackErr *AckError
	if errors.As(err, &ackErr) {
		return ackErr.Result, true
	}
	return AckResult{}, false
}

func Success(id uint64, kind uint32, fields []tlv.Field, elapsed time.Duration) AckResult {
	return AckResult{RequestID: id, Kind: kind, Outcome: OutcomeSuccess, Code: CodeOK, Elapsed: elapsed, fields: tlv.Clone(fields)}
}

func Timeout(id uint64, kind uint32, reason string, elapsed time.Duration) AckResult {
	return AckResult{RequestID: id, Kind: kind, Outcome: OutcomeTimeout, Reason: reason, Elapsed: elapsed}
}

func LinkFailure(id uint64, kind uint32, code uint32, reason string, elapsed time.Duration) AckResult {
	return AckResult{RequestID: id, Kind: kind, Outcome: OutcomeLinkError, Code: code, Reason: reason, Elapsed: elapsed}
}

func Rejected(id uint64, kind uint32, code uint32, reason string) AckResult {
	return AckResult{RequestID: id, Kind: kind, Outcome: OutcomeRejected, Code: code, Reason: reason}
}

// PhysicalTimeout converts a successful ack into a failed monitored action.
func PhysicalTimeout(ack AckResult, reason string, elapsed time.Duration) AckResult {
	return AckResult{
		RequestID: ack.RequestID,
		Kind:      ack.Kind,
		Outcome:   OutcomePhysicalTimeout,
		Code:      ack.Code,
		Reason:    reason,
		Elapsed:   elapsed,
		fields:    tlv.Clone(ack.fields),
	}
}

// WithElapsed returns r with an overall duration, used by compound calls.
func (r AckResult) WithElapsed(d time.Duration) AckResult {
	r.Elapsed = d
	r.fields = tlv.Clone(r.fields)
	return r
}
