package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	liberr "github.com/nabbar/simple-mesh/errors"
)

// ServerTLSConfig mirrors the server-side handshake knobs: certificate,
// key, and (optionally) a client-auth CA pool in lieu of the original's
// DH-parameter/password-protected-key options, which crypto/tls does not
// expose directly.
type ServerTLSConfig struct {
	CertFile   string
	KeyFile    string
	ClientCAs  string // optional PEM bundle; enables client cert verification
	MinVersion uint16
}

func (c ServerTLSConfig) build() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: load TLS certificate", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tlsMinVersion(c.MinVersion)}
	if c.ClientCAs != "" {
		pool, err := loadCAPool(c.ClientCAs)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientTLSConfig mirrors the client-side verify-mode knobs: a pinned CA
// bundle, the OS trust store, or skip-verify — the last is the
// original's "bypass verification" escape hatch and must only be used in
// test/dev environments.
type ClientTLSConfig struct {
	ServerName string
	PinnedCAs  string // optional PEM bundle; empty means use the OS trust store
	SkipVerify bool
}

func (c ClientTLSConfig) build() (*tls.Config, error) {
	cfg := &tls.Config{ServerName: c.ServerName, InsecureSkipVerify: c.SkipVerify}
	if c.PinnedCAs != "" {
		pool, err := loadCAPool(c.PinnedCAs)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	// Leaving RootCAs nil makes crypto/tls consult the OS trust store,
	// which is the original's default ("optionally loads the OS trust
	// store") without needing golang.org/x/crypto for it.
	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: read CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, liberr.NewCode(liberr.CodeParseFailed, "transport: no certificates parsed from CA bundle")
	}
	return pool, nil
}

func tlsMinVersion(v uint16) uint16 {
	if v == 0 {
		return tls.VersionTLS12
	}
	return v
}

// ListenTLS is ListenTCP with every accepted connection upgraded to TLS
// before the read/write loops start, per the handshake-before-loops
// ordering the original's ssl_session_impl enforces.
func ListenTLS(addr string, cfg ServerTLSConfig, nextID func() uint64, sink EventSink) (*TCPListener, error) {
	tc, err := cfg.build()
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, tc)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: listen TLS", err)
	}
	l := &TCPListener{ln: ln, sink: sink, nextID: nextID, closed: make(chan struct{})}
	go l.acceptLoop()
	sink(Event{Kind: Started})
	return l, nil
}

// DialTLS connects and completes the TLS handshake before returning, so
// the caller's read/write loops only ever see plaintext application
// data.
func DialTLS(addr string, cfg ClientTLSConfig, sink EventSink) (*TCPConn, error) {
	tc, err := cfg.build()
	if err != nil {
		return nil, err
	}
	conn, err := tls.Dial("tcp", addr, tc)
	if err != nil {
		return nil, liberr.NewCode(liberr.CodeSystem, "transport: dial TLS", err)
	}
	t := newTCPConn(conn, sink)
	sink(Event{Kind: Started})
	return t, nil
}
