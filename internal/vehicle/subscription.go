package vehicle

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/tlv"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// MaxPackages is the number of package slots the flight controller offers.
const MaxPackages = 5

// Sample is the latest decoded value of one topic.
type Sample struct {
	Value   any
	Package uint8
	Seq     uint32
	At      time.Time
}

// PackageView is a copy of one active package and its last decoded values.
type PackageView struct {
	Index     uint8
	Frequency uint16
	Topics    []telemetry.TopicName
	Values    []telemetry.TopicValue
	Seq       uint32
	UpdatedAt time.Time
}

type packageState struct {
	freq   uint16
	topics []telemetry.TopicName
	values []telemetry.TopicValue
	seq    uint32
	at     time.Time
}

// Subscriptions tracks package slots and decodes their telemetry. A slot is
// busy while active and while a setup or teardown round trip is in flight.
type Subscriptions struct {
	mu     sync.RWMutex
	active map[uint8]*packageState
	busy   map[uint8]bool
	latest map[telemetry.TopicName]Sample
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		active: make(map[uint8]*packageState),
		busy:   make(map[uint8]bool),
		latest: make(map[telemetry.TopicName]Sample),
	}
}

func (s *Subscriptions) reserveSetup(index uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[index]; ok || s.busy[index] {
		return false
	}
	s.busy[index] = true
	return true
}

func (s *Subscriptions) reserveTeardown(index uint8) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[index]; !ok {
		return false, "package index not active"
	}
	if s.busy[index] {
		return false, "teardown already in progress"
	}
	s.busy[index] = true
	return true, ""
}

func (s *Subscriptions) commitSetup(index uint8, freq uint16, topics []telemetry.TopicName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[index] = &packageState{freq: freq, topics: slices.Clone(topics)}
	delete(s.busy, index)
}

// commitTeardown frees index and drops the samples it produced.
func (s *Subscriptions) commitTeardown(index uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, index)
	delete(s.busy, index)
	for topic, sample := range s.latest {
		if sample.Package == index {
			delete(s.latest, topic)
		}
	}
}

func (s *Subscriptions) release(index uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, index)
}

func (s *Subscriptions) IsActive(index uint8) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[index]
	return ok
}

func (s *Subscriptions) Package(index uint8) (PackageView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.active[index]
	if !ok {
		return PackageView{}, false
	}
	return viewOf(index, p), true
}

// Packages lists active packages by index.
func (s *Subscriptions) Packages() []PackageView {
	s.mu.RLock()
	out := make([]PackageView, 0, len(s.active))
	for index, p := range s.active {
		out = append(out, viewOf(index, p))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Latest returns the newest sample of topic from a package that is still active.
func (s *Subscriptions) Latest(topic telemetry.TopicName) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latest[topic]
	return v, ok
}

func viewOf(index uint8, p *packageState) PackageView {
	return PackageView{
		Index:     index,
		Frequency: p.freq,
		Topics:    slices.Clone(p.topics),
		Values:    slices.Clone(p.values),
		Seq:       p.seq,
		UpdatedAt: p.at,
	}
}

// handle decodes one telemetry frame into its package, in declared topic order.
func (s *Subscriptions) handle(f frame.Frame) error {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return err
	}
	if err := schema.Validate(schema.KindTelemetry, fields); err != nil {
		return err
	}
	index, _ := tlv.GetU8(fields, schema.FieldPackageIndex)
	data, _ := tlv.GetBytes(fields, schema.FieldTelemetryData)
	seq, _ := tlv.GetU32(fields, schema.FieldTelemetrySeq)

	s.mu.RLock()
	p, ok := s.active[index]
	var topics []telemetry.TopicName
	if ok {
		topics = p.topics
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("telemetry for inactive package %d", index)
	}

	values, err := telemetry.DecodePackage(topics, data)
	if err != nil {
		return fmt.Errorf("package %d: %w", index, err)
	}

	now := time.Now()
	s.mu.Lock()
	// The package may have been torn down or replaced while decoding.
	if cur, ok := s.active[index]; ok && cur == p {
		p.values = values
		p.seq = seq
		p.at = now
		for _, v := range values {
			s.latest[v.Topic] = Sample{Value: v.Value, Package: index, Seq: seq, At: now}
		}
	}
	s.mu.Unlock()
	observability.RecordTelemetryFrame(index)
	return nil
}

// SetUpSubscription claims package slot index for topics at freq Hz. An index
// that is active (or mid setup/teardown) is refused locally without touching
// the existing package.
func (g *Gateway) SetUpSubscription(ctx context.Context, index uint8, freq uint16, topics []telemetry.TopicName, timeout time.Duration) gateway.AckResult {
	if reason := checkPackage(index, freq, topics); reason != "" {
		return gateway.Rejected(0, schema.KindSubscribe, gateway.CodeInvalidArgument, reason)
	}
	subs := g.sess.subs
	if !subs.reserveSetup(index) {
		log.Warn().Uint8("package", index).Msg("vehicle.SetUpSubscription index in use")
		return gateway.Rejected(0, schema.KindSubscribe, gateway.CodeIndexInUse, fmt.Sprintf("package index %d in use", index))
	}
	res := g.sess.corr.Send(ctx, gateway.Request{
		Kind: schema.KindSubscribe,
		Fields: []tlv.Field{
			tlv.U8(schema.FieldPackageIndex, index),
			tlv.U16(schema.FieldFrequency, freq),
			tlv.Bytes(schema.FieldTopics, telemetry.EncodeTopicList(topics)),
		},
		Timeout: timeout,
	})
	if !res.OK() {
		subs.release(index)
		return res
	}
	subs.commitSetup(index, freq, topics)
	log.Info().Uint8("package", index).Uint16("freq", freq).Int("topics", len(topics)).Msg("vehicle.SetUpSubscription active")
	return res
}

// TeardownSubscription frees index once the vehicle confirms.
func (g *Gateway) TeardownSubscription(ctx context.Context, index uint8, timeout time.Duration) gateway.AckResult {
	subs := g.sess.subs
	if ok, reason := subs.reserveTeardown(index); !ok {
		return gateway.Rejected(0, schema.KindUnsubscribe, gateway.CodeIndexNotActive, reason)
	}
	res := g.sess.corr.Send(ctx, gateway.Request{
		Kind:    schema.KindUnsubscribe,
		Fields:  []tlv.Field{tlv.U8(schema.FieldPackageIndex, index)},
		Timeout: timeout,
	})
	if !res.OK() {
		subs.release(index)
		return res
	}
	subs.commitTeardown(index)
	log.Info().Uint8("package", index).Msg("vehicle.TeardownSubscription freed")
	return res
}

func checkPackage(index uint8, freq uint16, topics []telemetry.TopicName) string {
	if index >= MaxPackages {
		return fmt.Sprintf("package index %d out of range", index)
	}
	if freq == 0 {
		return "frequency must be positive"
	}
	if len(topics) == 0 {
		return "no topics"
	}
	for _, t := range topics {
		if _, ok := telemetry.Lookup(t); !ok {
			return fmt.Sprintf("unknown topic %d", t)
		}
	}
	return ""
}
