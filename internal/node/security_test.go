package node

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/osdkctl/internal/testutil/simrig"
	"github.com/danmuck/osdkctl/internal/testutil/testlog"
	"github.com/danmuck/osdkctl/internal/testutil/tlstest"
)

func TestAdminTokenGuardsServiceCalls(t *testing.T) {
	testlog.Start(t)
	r := simrig.Start(t, simrig.SimConfig(), simrig.Options())
	b := NewBridge(Options{ID: "osdkctl-token", AdminToken: "s3cret"}, r.Gateway)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Executor().Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/services/camera/actions/shoot_single", strings.NewReader(`{}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		b.HTTPRouter().ServeHTTP(rr, req)
		return rr.Code
	}
	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := call("Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	if code := call("Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if rr := get(b, "/services"); rr.Code != http.StatusOK {
		t.Fatalf("listing stays open, got %d", rr.Code)
	}
	if len(r.Gateway.Pending()) != 0 {
		t.Fatalf("pending requests left")
	}
}

func TestTLSOptionsValidate(t *testing.T) {
	testlog.Start(t)
	if err := (TLSOptions{}).Validate(); err != nil {
		t.Fatalf("disabled tls should validate: %v", err)
	}
	if err := (TLSOptions{KeyFile: "k"}).Validate(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected cert required, got %v", err)
	}
	if err := (TLSOptions{CertFile: "c", ClientCAFile: "ca"}).Validate(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
}

func TestServeOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "osdkctl-test-ca")
	certFile, keyFile := ca.IssueServerCert(t, dir, "osdkctl-node", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	clientCert, clientKey := ca.IssueClientCert(t, dir, "operator")

	r := simrig.Start(t, simrig.SimConfig(), simrig.Options())
	b := NewBridge(Options{
		ID:  "osdkctl-tls",
		TLS: TLSOptions{CertFile: certFile, KeyFile: keyFile, ClientCAFile: ca.CAFile()},
	}, r.Gateway)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("bridge did not stop")
		}
	}()

	caPEM, err := os.ReadFile(ca.CAFile())
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caPEM)
	pair, err := tls.LoadX509KeyPair(clientCert, clientKey)
	if err != nil {
		t.Fatalf("load client pair: %v", err)
	}
	url := "https://" + ln.Addr().String() + "/health"

	withCert := &http.Client{Timeout: 3 * time.Second, Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, Certificates: []tls.Certificate{pair}},
	}}
	resp, err := withCert.Get(url)
	if err != nil {
		t.Fatalf("mtls get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	noCert := &http.Client{Timeout: 3 * time.Second, Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}}
	if resp, err := noCert.Get(url); err == nil {
		resp.Body.Close()
		t.Fatalf("expected handshake failure without client cert")
	}
}
