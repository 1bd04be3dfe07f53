package node

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/danmuck/osdkctl/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrTLSCertFileRequired = errors.New("node: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("node: tls key file required")
)

// TLSOptions turns on HTTPS for the admin API. A client CA also requires
// client certificates.
type TLSOptions struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
}

func (o TLSOptions) Enabled() bool {
	return strings.TrimSpace(o.CertFile) != "" || strings.TrimSpace(o.KeyFile) != "" || strings.TrimSpace(o.ClientCAFile) != ""
}

func (o TLSOptions) Validate() error {
	if !o.Enabled() {
		return nil
	}
	if strings.TrimSpace(o.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(o.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}

// serverConfig loads the certificate pair and the optional client CA.
func (o TLSOptions) serverConfig() (*tls.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if strings.TrimSpace(o.ClientCAFile) == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(o.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client ca %s: no certificates", o.ClientCAFile)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// requireToken guards command routes with a bearer token.
func requireToken(v auth.Validator, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			log.Warn().
				Str("node", node).
				Str("path", c.FullPath()).
				Str("client_ip", c.ClientIP()).
				Msg("node.Bridge unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}
