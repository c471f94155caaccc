// Package transport opens the byte stream an OSI association rides on:
// plain TCP or, when the caller's config carries TLS material, a
// crypto/tls connection.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/iec61850/mmsclient/config"
)

// connectTimeout bounds both the TCP dial and the TLS handshake.
const connectTimeout = 10 * time.Second

// Dial opens the transport-layer connection described by cfg: a plain TCP
// socket, or a TLS connection when cfg.TLS is set. The returned net.Conn is
// handed to cotp.NewConnection/Connect unmodified.
func Dial(ctx context.Context, cfg *config.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	address := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)

	if cfg.TLS == nil {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", address, err)
		}
		return conn, nil
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("transport: build TLS config: %w", err)
	}

	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}

	tlsConn := tls.Client(rawConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", address, err)
	}

	return tlsConn, nil
}

func buildTLSConfig(t *config.TLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: t.DisableVerify}

	if t.CAFile != "" {
		pemBytes, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, errors.New("CA file contains no usable certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
