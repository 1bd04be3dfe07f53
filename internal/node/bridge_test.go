package node

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/gateway"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/testutil/simrig"
	"github.com/danmuck/osdkctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startBridge returns a bridge over a simulated vehicle with its executor running.
func startBridge(t *testing.T) *Bridge {
	t.Helper()
	r := simrig.Start(t, simrig.SimConfig(), simrig.Options())
	b := NewBridge(Options{ID: "osdkctl-test", Addr: "127.0.0.1:0", Workers: 2}, r.Gateway)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Executor().Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func post(t *testing.T, b *Bridge, path, body string) (*httptest.ResponseRecorder, ActionResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	b.HTTPRouter().ServeHTTP(rr, req)
	var out ActionResponse
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusBadRequest {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, out
}

func get(b *Bridge, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	b.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthReadyAndServices(t *testing.T) {
	testlog.Start(t)
	b := startBridge(t)

	if rr := get(b, "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	rr := get(b, "/ready")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"firmware"`) {
		t.Fatalf("ready: %d %s", rr.Code, rr.Body.String())
	}

	rr = get(b, "/services")
	var body struct {
		Services []ServiceInfo `json:"services"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if len(body.Services) != 6 || body.Services[0].Name != "camera" {
		t.Fatalf("unexpected services: %+v", body.Services)
	}
	if rr := get(b, "/metrics"); rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestActionOutcomeMapping(t *testing.T) {
	testlog.Start(t)
	b := startBridge(t)

	rr, out := post(t, b, "/services/camera/actions/set_iso", `{"payload_index":0,"value":3}`)
	if rr.Code != http.StatusOK || !out.OK || out.Outcome != "success" {
		t.Fatalf("set_iso: %d %+v", rr.Code, out)
	}
	if rr.Header().Get(observability.OutcomeHeader) != "success" {
		t.Fatalf("missing outcome header")
	}

	topics := `{"index":1,"frequency":50,"topics":["height_fusion"]}`
	if rr, out := post(t, b, "/services/subscription/actions/setup", topics); rr.Code != http.StatusOK {
		t.Fatalf("setup: %d %+v", rr.Code, out)
	}
	rr, out = post(t, b, "/services/subscription/actions/setup", topics)
	if rr.Code != http.StatusConflict || out.Code != gateway.CodeIndexInUse {
		t.Fatalf("expected 409 index in use, got %d %+v", rr.Code, out)
	}

	rr, out = post(t, b, "/services/flight/actions/set_home_location", `{"timeout_ms":0}`)
	if rr.Code != http.StatusGatewayTimeout || out.Outcome != "ack_timeout" {
		t.Fatalf("expected 504 ack_timeout, got %d %+v", rr.Code, out)
	}

	if rr, _ := post(t, b, "/services/nope/actions/x", ``); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown service: %d", rr.Code)
	}
	if rr, _ := post(t, b, "/services/camera/actions/nope", ``); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action: %d", rr.Code)
	}
	if rr, _ := post(t, b, "/services/camera/actions/set_ev", `{"payload_index":9}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad params: %d", rr.Code)
	}

	var pending struct {
		Pending []pendingInfo `json:"pending"`
	}
	if err := json.Unmarshal(get(b, "/pending").Body.Bytes(), &pending); err != nil || len(pending.Pending) != 0 {
		t.Fatalf("pending after calls: %v %+v", err, pending.Pending)
	}
}

func TestTopicsFollowPublisher(t *testing.T) {
	testlog.Start(t)
	b := startBridge(t)

	if rr := get(b, "/topics/status_flight"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 before any sample, got %d", rr.Code)
	}
	if rr := get(b, "/topics/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown topic, got %d", rr.Code)
	}

	if rr, out := post(t, b, "/services/subscription/actions/setup", `{"index":2,"frequency":100,"topics":["status_flight","battery_info"]}`); rr.Code != http.StatusOK {
		t.Fatalf("setup: %d %+v", rr.Code, out)
	}
	deadline := time.Now().Add(2 * time.Second)
	for b.Publisher().PublishOnce() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no telemetry published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr := get(b, "/topics/battery_info")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"battery_info"`) {
		t.Fatalf("topic: %d %s", rr.Code, rr.Body.String())
	}

	var pkgs struct {
		Packages []packageInfo `json:"packages"`
	}
	if err := json.Unmarshal(get(b, "/packages").Body.Bytes(), &pkgs); err != nil {
		t.Fatalf("decode packages: %v", err)
	}
	if len(pkgs.Packages) != 1 || pkgs.Packages[0].Topics[1] != "battery_info" {
		t.Fatalf("unexpected packages: %+v", pkgs.Packages)
	}

	if rr, out := post(t, b, "/services/subscription/actions/teardown", `{"index":2}`); rr.Code != http.StatusOK {
		t.Fatalf("teardown: %d %+v", rr.Code, out)
	}
	b.Publisher().PublishOnce()
	if rr := get(b, "/topics/battery_info"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 after teardown, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestTopicStreamDeliversSamples(t *testing.T) {
	testlog.Start(t)
	b := startBridge(t)
	srv := httptest.NewServer(b.HTTPRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/topics/height_fusion/stream", nil)

	type result struct {
		line string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "event:") {
				got <- result{line: sc.Text()}
				return
			}
		}
		got <- result{err: sc.Err()}
	}()

	// Publish until the stream has subscribed and reports a sample.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-got:
			if r.err != nil || !strings.Contains(r.line, "sample") {
				t.Fatalf("stream: %q %v", r.line, r.err)
			}
			return
		case <-ticker.C:
			b.Bus().Publish("height_fusion", TopicSample{Topic: "height_fusion", Value: float32(1.5)})
		case <-ctx.Done():
			t.Fatalf("no event before deadline")
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	r := simrig.Start(t, simrig.SimConfig(), simrig.Options())
	b := NewBridge(Options{ID: "osdkctl-run", Addr: "127.0.0.1:0", PublishInterval: 10 * time.Millisecond}, r.Gateway)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("bridge did not stop")
	}
}
