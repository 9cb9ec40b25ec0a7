package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TLSConfig locates the certificate material for the HTTP API and the gRPC
// health endpoint.
type TLSConfig struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
	// AllowInsecure permits plaintext when no certificate is configured.
	AllowInsecure bool
	// AllowedClientCNs turns on mTLS caller identification; it needs
	// ClientCAFile.
	AllowedClientCNs []string
}

var errNoCertificate = errors.New("tls certificate and key are required")

// ServerTLS builds the listener tls.Config, or nil for an allowed plaintext
// listener. Client certificates are verified when offered; whether one is
// required is decided per route by the Authenticator.
func ServerTLS(cfg TLSConfig) (*tls.Config, error) {
	certPath, keyPath := strings.TrimSpace(cfg.CertFile), strings.TrimSpace(cfg.KeyFile)
	mtls := len(cfg.AllowedClientCNs) > 0

	switch {
	case certPath != "" && keyPath != "":
	case mtls:
		return nil, fmt.Errorf("mtls requires server certificate, key, and client ca configuration")
	case cfg.AllowInsecure:
		return nil, nil
	default:
		return nil, errNoCertificate
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}

	pool, err := loadCertPool(cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		if mtls {
			return nil, fmt.Errorf("client ca bundle required for mtls")
		}
		return out, nil
	}
	out.ClientCAs = pool
	out.ClientAuth = tls.VerifyClientCertIfGiven
	return out, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse client ca %s: no certificates found", path)
	}
	return pool, nil
}
