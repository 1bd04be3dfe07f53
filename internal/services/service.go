package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
)

// ErrBadParams marks action parameters that could not be decoded or are out
// of range. Nothing was sent to the vehicle.
var ErrBadParams = errors.New("invalid action parameters")

// Service groups the gateway operations of one vehicle area.
type Service interface {
	Name() string
	Status() (any, error)
	Actions() map[string]Action
}

// Reply is what an action produced: the gateway result and, for reads, the
// decoded data.
type Reply struct {
	Result gateway.AckResult
	Data   any
}

// Action executes one service command with JSON parameters.
type Action func(ctx context.Context, params json.RawMessage) (Reply, error)

// ServiceRegistry stores services by name.
type ServiceRegistry struct {
	repo map[string]Service
	mu   sync.RWMutex
}

// NewServiceRegistry initializes an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		repo: make(map[string]Service),
	}
}

// Register adds a service to the registry by name.
func (sr *ServiceRegistry) Register(p Service) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.repo[p.Name()] = p
}

// All returns a snapshot of all registered services.
func (sr *ServiceRegistry) All() map[string]Service {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make(map[string]Service, len(sr.repo))
	for name, svc := range sr.repo {
		out[name] = svc
	}
	return out
}

// Get returns a service by name.
func (sr *ServiceRegistry) Get(name string) (Service, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	p, ok := sr.repo[name]
	return p, ok
}

// ActionNames returns a service's actions in sorted order.
func ActionNames(svc Service) []string {
	actions := svc.Actions()
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decode reads params into dst. Empty params leave dst at its zero value.
func decode(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return nil
}

// badParams formats a range error.
func badParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadParams, fmt.Sprintf(format, args...))
}

// timeoutParam lets callers omit a timeout (fallback) or send an explicit
// one, including zero.
type timeoutParam struct {
	TimeoutMS *int64 `json:"timeout_ms"`
}

func (t timeoutParam) or(fallback time.Duration) time.Duration {
	if t.TimeoutMS == nil {
		return fallback
	}
	return time.Duration(*t.TimeoutMS) * time.Millisecond
}

// ackOnly wraps a call that only returns an AckResult.
func ackOnly(res gateway.AckResult) (Reply, error) {
	return Reply{Result: res}, nil
}
