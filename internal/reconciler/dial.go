package reconciler

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

const defaultToken = "your-secret-token"

// NormalizeURL rewrites a configured gateway URL into the canonical
// ws(s)://host:port/api?token=... shape, defaulting the token to
// "your-secret-token" when absent. It returns the normalized URL and
// any warnings produced by defaults it had to apply.
func NormalizeURL(raw string) (string, []string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse gateway url: %w", err)
	}

	var warnings []string

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
		warnings = append(warnings, "gateway url had no scheme, defaulting to ws")
	default:
		return "", nil, fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}

	if !strings.HasPrefix(u.Path, "/api") {
		warnings = append(warnings, fmt.Sprintf("gateway url path %q lacks /api, rewriting", u.Path))
		u.Path = "/api"
	}

	q := u.Query()
	if q.Get("token") == "" {
		warnings = append(warnings, "gateway url lacks ?token=, defaulting to your-secret-token")
		q.Set("token", defaultToken)
		u.RawQuery = q.Encode()
	}

	return u.String(), warnings, nil
}

// Dial opens the WebSocket connection for a gateway session, normalizing
// its configured URL first and honoring the per-gateway TLS verification
// setting (verification stays on unless explicitly disabled).
func Dial(ctx context.Context, cfg GatewayConfig) (*websocket.Conn, []string, error) {
	normalized, warnings, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}

	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSInsecure},
	}

	conn, _, err := dialer.DialContext(ctx, normalized, nil)
	if err != nil {
		return nil, warnings, err
	}
	return conn, warnings, nil
}
