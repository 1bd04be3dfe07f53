package node

import (
	"context"
	"time"

	"github.com/danmuck/osdkctl/internal/bus"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/danmuck/osdkctl/internal/vehicle"
	"github.com/rs/zerolog/log"
)

// DefaultPublishInterval is how often decoded telemetry is pushed to the bus.
const DefaultPublishInterval = 200 * time.Millisecond

// TopicSample is what the bus carries for one telemetry topic.
type TopicSample struct {
	Topic   string    `json:"topic"`
	Unit    string    `json:"unit"`
	Package uint8     `json:"package"`
	Seq     uint32    `json:"seq"`
	At      time.Time `json:"at"`
	Value   any       `json:"value"`
}

// Publisher copies new telemetry samples from the gateway onto the bus,
// one bus topic per catalog label.
type Publisher struct {
	gw       *vehicle.Gateway
	bus      *bus.Bus
	interval time.Duration
	last     map[telemetry.TopicName]time.Time
}

func NewPublisher(gw *vehicle.Gateway, b *bus.Bus, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{
		gw:       gw,
		bus:      b,
		interval: interval,
		last:     make(map[telemetry.TopicName]time.Time),
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.PublishOnce(); n > 0 {
				log.Trace().Int("topics", n).Msg("node.Publisher published")
			}
		}
	}
}

// PublishOnce publishes every topic with a sample newer than the last one
// sent and returns how many it published. Topics whose package was torn down
// are dropped from the bus.
func (p *Publisher) PublishOnce() int {
	n := 0
	for _, info := range telemetry.Catalog() {
		s, ok := p.gw.Latest(info.Name)
		if !ok {
			if _, sent := p.last[info.Name]; sent {
				delete(p.last, info.Name)
				p.bus.Forget(info.Label)
			}
			continue
		}
		if !s.At.After(p.last[info.Name]) {
			continue
		}
		p.last[info.Name] = s.At
		p.bus.Publish(info.Label, TopicSample{
			Topic:   info.Label,
			Unit:    info.Unit,
			Package: s.Package,
			Seq:     s.Seq,
			At:      s.At,
			Value:   s.Value,
		})
		n++
	}
	return n
}
