package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
	schemeUnix  = "unix"
)

// Target is the upstream the proxy forwards to.
type Target struct {
	raw        *url.URL
	socketPath string
}

// ParseTarget accepts unix:///path/to.sock or an http(s) URL.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse target %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case schemeUnix:
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" || strings.HasSuffix(p, "/") {
			return Target{}, fmt.Errorf("unix target %q has no socket path", raw)
		}
		return Target{raw: u, socketPath: p}, nil
	case schemeHTTP, schemeHTTPS:
		if u.Host == "" {
			return Target{}, fmt.Errorf("target %q has no host", raw)
		}
		return Target{raw: u}, nil
	default:
		return Target{}, fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
}

// IsUnix reports whether requests are dialled over a unix socket.
func (t Target) IsUnix() bool { return t.socketPath != "" }

// SocketPath is the unix socket path, empty for network targets.
func (t Target) SocketPath() string { return t.socketPath }

func (t Target) String() string {
	if t.raw == nil {
		return ""
	}
	return t.raw.String()
}

// BaseURL is the URL requests are rewritten to. A unix target becomes
// http://<socket file name>; the socket itself is reached by the transport.
func (t Target) BaseURL() *url.URL {
	if t.IsUnix() {
		return &url.URL{Scheme: schemeHTTP, Host: path.Base(t.socketPath)}
	}
	u := *t.raw
	return &u
}

// Transport returns the round tripper for t.
func (t Target) Transport(dialTimeout time.Duration) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if t.IsUnix() {
		d := net.Dialer{Timeout: dialTimeout}
		socket := t.socketPath
		tr.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return d.DialContext(ctx, schemeUnix, socket)
		}
		tr.Proxy = nil
	}
	return tr
}

// ListenAddrs turns a source URL list ("http://0.0.0.0:8080;http://*:9090")
// into listen addresses. Wildcard hosts (*, +) listen on every interface.
func ListenAddrs(source string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(source, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(strings.NewReplacer("://*", "://wildcard", "://+", "://wildcard").Replace(part))
		if err != nil {
			return nil, fmt.Errorf("parse source %q: %w", part, err)
		}
		if !strings.EqualFold(u.Scheme, schemeHTTP) {
			return nil, fmt.Errorf("source %q: only http is supported", part)
		}
		host, port := u.Hostname(), u.Port()
		if host == "wildcard" {
			host = ""
		}
		if port == "" {
			port = "80"
		}
		out = append(out, net.JoinHostPort(host, port))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("source url is empty")
	}
	return out, nil
}
