package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/danmuck/osdkctl/internal/auth"
	"github.com/danmuck/osdkctl/internal/bus"
	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/protocol/schema"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/danmuck/osdkctl/internal/services"
	"github.com/danmuck/osdkctl/internal/telemetry"
	"github.com/danmuck/osdkctl/internal/vehicle"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const Version = "0.1.0"

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrActionNotFound  = errors.New("action not found")
)

// Options configures a Bridge.
type Options struct {
	ID              string
	Addr            string
	CORSOrigins     []string
	Workers         int
	PublishInterval time.Duration
	// AdminToken, when set, is required as a bearer token on service calls.
	AdminToken string
	TLS        TLSOptions
}

// Bridge exposes one vehicle gateway over HTTP. Service calls run on the
// executor; telemetry is republished on the bus.
type Bridge struct {
	ID       string
	Addr     string
	Appeared time.Time
	Registry *services.ServiceRegistry

	adminToken string
	tlsOpts    TLSOptions
	gw         *vehicle.Gateway
	exec       *Executor
	bus        *bus.Bus
	publisher  *Publisher
	router     *gin.Engine
}

var _ Node = (*Bridge)(nil)

func NewBridge(opts Options, gw *vehicle.Gateway) *Bridge {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, opts.ID))
	r.Use(observability.RequestMetricsMiddleware(opts.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(opts.CORSOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{observability.OutcomeHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	b := &Bridge{
		ID:       opts.ID,
		Addr:     opts.Addr,
		Appeared: time.Now(),
		Registry: services.NewServiceRegistry(),
		gw:       gw,

		adminToken: opts.AdminToken,
		tlsOpts:    opts.TLS,
		exec:       NewExecutor(opts.Workers),
		bus:        bus.New(),
		router:     r,
	}
	b.publisher = NewPublisher(gw, b.bus, opts.PublishInterval)
	services.Register(b.Registry, gw)
	b.RegisterRoutes()
	return b
}

func (b *Bridge) NodeID() string {
	return b.ID
}

func (b *Bridge) Kind() string {
	return "bridge"
}

func (b *Bridge) HTTPRouter() *gin.Engine {
	return b.router
}

func (b *Bridge) Bus() *bus.Bus             { return b.bus }
func (b *Bridge) Executor() *Executor       { return b.exec }
func (b *Bridge) Publisher() *Publisher     { return b.publisher }
func (b *Bridge) Gateway() *vehicle.Gateway { return b.gw }

// linkUp reports whether the vehicle receive path is still running.
func (b *Bridge) linkUp() bool {
	select {
	case <-b.gw.Session().Done():
		return false
	default:
		return true
	}
}

func (b *Bridge) RegisterRoutes() {
	routes := b.router
	routes.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(b.Appeared).String(),
			"node":    b.ID,
			"version": Version,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/ready", func(c *gin.Context) {
		ready := b.linkUp()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":    ready,
			"uptime":   time.Since(b.Appeared).String(),
			"node":     b.ID,
			"firmware": b.gw.Session().Firmware(),
			"version":  Version,
		})
	})

	routes.GET("/services", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"services": b.ListServices(),
		})
	})

	commands := routes.Group("/services")
	if b.adminToken != "" {
		commands.Use(requireToken(auth.StaticToken{Token: b.adminToken}, b.ID))
	}
	commands.POST("/:service/actions/:action", b.handleAction)

	routes.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"topics": b.listTopics()})
	})
	routes.GET("/topics/:name", b.handleTopic)
	routes.GET("/topics/:name/stream", b.handleTopicStream)

	routes.GET("/packages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"packages": packageInfos(b.gw.Packages())})
	})
	routes.GET("/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": pendingInfos(b.gw.Pending())})
	})
}

// ActionResponse is the JSON body of every service call.
type ActionResponse struct {
	OK        bool   `json:"ok"`
	RequestID uint64 `json:"request_id,omitempty"`
	Outcome   string `json:"outcome"`
	Code      uint32 `json:"code"`
	Reason    string `json:"reason,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Data      any    `json:"data,omitempty"`
}

func (b *Bridge) handleAction(c *gin.Context) {
	serviceName := c.Param("service")
	actionName := c.Param("action")
	params, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := b.ExecuteAction(c.Request.Context(), serviceName, actionName, params)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	res := reply.Result
	c.Header(observability.OutcomeHeader, res.Outcome.String())
	c.JSON(outcomeStatus(res.Outcome), ActionResponse{
		OK:        res.OK(),
		RequestID: res.RequestID,
		Outcome:   res.Outcome.String(),
		Code:      res.Code,
		Reason:    res.Reason,
		ElapsedMS: res.Elapsed.Milliseconds(),
		Data:      reply.Data,
	})
}

// outcomeStatus maps a gateway outcome onto an HTTP status.
func outcomeStatus(o gateway.Outcome) int {
	switch o {
	case gateway.OutcomeSuccess:
		return http.StatusOK
	case gateway.OutcomeRejected:
		return http.StatusConflict
	case gateway.OutcomeTimeout, gateway.OutcomePhysicalTimeout:
		return http.StatusGatewayTimeout
	case gateway.OutcomeLinkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBadParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrExecutorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ExecuteAction looks up service/action and runs it on the executor.
func (b *Bridge) ExecuteAction(ctx context.Context, serviceName, actionName string, params []byte) (services.Reply, error) {
	service, ok := b.Registry.Get(serviceName)
	if !ok || service == nil {
		return services.Reply{}, ErrServiceNotFound
	}
	action, ok := service.Actions()[actionName]
	if !ok {
		return services.Reply{}, ErrActionNotFound
	}

	var (
		reply  services.Reply
		actErr error
	)
	if err := b.exec.Do(ctx, func(ctx context.Context) {
		reply, actErr = action(ctx, params)
	}); err != nil {
		return services.Reply{}, err
	}
	if actErr != nil {
		log.Warn().
			Str("node", b.ID).
			Str("service", serviceName).
			Str("action", actionName).
			Err(actErr).
			Msg("node.Bridge action refused")
		return services.Reply{}, actErr
	}

	event := log.Info()
	if !reply.Result.OK() {
		event = log.Warn()
	}
	event.
		Str("node", b.ID).
		Str("service", serviceName).
		Str("action", actionName).
		Str("outcome", reply.Result.Outcome.String()).
		Uint32("code", reply.Result.Code).
		Msg("node.Bridge action executed")
	return reply, nil
}

type ServiceInfo struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
	Status  any      `json:"status,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (b *Bridge) ListServices() []ServiceInfo {
	entries := b.Registry.All()
	list := make([]ServiceInfo, 0, len(entries))
	for name, service := range entries {
		if service == nil {
			continue
		}
		info := ServiceInfo{Name: name, Actions: services.ActionNames(service)}
		status, err := service.Status()
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Status = status
		}
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

type topicInfo struct {
	telemetry.TopicInfo
	Available bool `json:"available"`
}

func (b *Bridge) listTopics() []topicInfo {
	catalog := telemetry.Catalog()
	out := make([]topicInfo, 0, len(catalog))
	for _, info := range catalog {
		_, ok := b.bus.Latest(info.Label)
		out = append(out, topicInfo{TopicInfo: info, Available: ok})
	}
	return out
}

func (b *Bridge) handleTopic(c *gin.Context) {
	name := c.Param("name")
	if _, ok := telemetry.ByLabel(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown topic %q", name)})
		return
	}
	msg, ok := b.bus.Latest(name)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// handleTopicStream pushes every published sample of one topic as a
// server-sent event until the client goes away.
func (b *Bridge) handleTopicStream(c *gin.Context) {
	name := c.Param("name")
	if _, ok := telemetry.ByLabel(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown topic %q", name)})
		return
	}
	sub := b.bus.Subscribe(16, name)
	defer sub.Close()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("sample", msg)
			return true
		}
	})
}

type packageInfo struct {
	Index     uint8          `json:"index"`
	Frequency uint16         `json:"frequency"`
	Topics    []string       `json:"topics"`
	Values    map[string]any `json:"values"`
	Seq       uint32         `json:"seq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func packageInfos(views []vehicle.PackageView) []packageInfo {
	out := make([]packageInfo, 0, len(views))
	for _, v := range views {
		p := packageInfo{
			Index:     v.Index,
			Frequency: v.Frequency,
			Topics:    make([]string, 0, len(v.Topics)),
			Values:    make(map[string]any, len(v.Values)),
			Seq:       v.Seq,
			UpdatedAt: v.UpdatedAt,
		}
		for _, t := range v.Topics {
			p.Topics = append(p.Topics, t.String())
		}
		for _, tv := range v.Values {
			p.Values[tv.Topic.String()] = tv.Value
		}
		out = append(out, p)
	}
	return out
}

type pendingInfo struct {
	RequestID uint64    `json:"request_id"`
	Kind      string    `json:"kind"`
	Stage     int       `json:"stage"`
	Stages    int       `json:"stages"`
	IssuedAt  time.Time `json:"issued_at"`
	Deadline  time.Time `json:"deadline"`
}

func pendingInfos(views []session.PendingView) []pendingInfo {
	out := make([]pendingInfo, 0, len(views))
	for _, v := range views {
		out = append(out, pendingInfo{
			RequestID: v.RequestID,
			Kind:      schema.KindName(v.Kind),
			Stage:     v.Stage,
			Stages:    v.Stages,
			IssuedAt:  v.IssuedAt,
			Deadline:  v.Deadline,
		})
	}
	return out
}

// Run listens on Addr and serves until ctx ends. See Serve.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.tlsOpts.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", b.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.Addr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln along with the executor and publisher,
// until ctx ends or one of them fails. A Bridge serves at most once.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if b.tlsOpts.Enabled() {
		cfg, err := b.tlsOpts.serverConfig()
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, cfg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.exec.Run(gctx) })
	g.Go(func() error { return b.publisher.Run(gctx) })
	g.Go(func() error {
		log.Info().
			Str("node", b.ID).
			Str("addr", ln.Addr().String()).
			Bool("tls", b.tlsOpts.Enabled()).
			Bool("token", b.adminToken != "").
			Msg("node.Bridge serving")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", ln.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Closing the bus ends open topic streams so Shutdown can drain.
		b.bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	log.Info().Str("node", b.ID).Msg("node.Bridge stopped")
	return err
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
