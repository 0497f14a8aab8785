package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	ngroklib "golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"
)

// NgrokTunnel is a Tunnel backed by an ngrok HTTP endpoint.
type NgrokTunnel struct {
	authToken string
	domain    string

	mu       sync.Mutex
	listener net.Listener
	url      string
}

// NewNgrok returns an unstarted tunnel. domain is optional; without it
// ngrok assigns a random one.
func NewNgrok(authToken, domain string) *NgrokTunnel {
	return &NgrokTunnel{authToken: authToken, domain: domain}
}

func (n *NgrokTunnel) endpoint() ngrokconfig.Tunnel {
	if n.domain != "" {
		return ngrokconfig.HTTPEndpoint(ngrokconfig.WithDomain(n.domain))
	}
	return ngrokconfig.HTTPEndpoint()
}

// Start opens the ngrok session and returns the public https URL.
func (n *NgrokTunnel) Start(ctx context.Context) (string, error) {
	if n.authToken == "" {
		return "", fmt.Errorf("ngrok auth token is required (set tunnel.authtoken or COURIER_NGROK_AUTHTOKEN)")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return n.url, nil
	}

	slog.Info("starting ngrok tunnel", "domain", n.domain)

	ln, err := ngroklib.Listen(ctx, n.endpoint(), ngroklib.WithAuthtoken(n.authToken))
	if err != nil {
		return "", fmt.Errorf("creating ngrok tunnel: %w", err)
	}

	n.listener = ln
	n.url = httpsURL(ln.Addr().String())

	slog.Info("ngrok tunnel established", "public_url", n.url)
	return n.url, nil
}

// httpsURL adds a scheme to bare host names.
func httpsURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "https://" + addr
}

// Close tears the tunnel down. Closing an unstarted tunnel is a no-op.
func (n *NgrokTunnel) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}

	slog.Info("closing ngrok tunnel", "public_url", n.url)
	err := n.listener.Close()
	n.listener = nil
	n.url = ""
	if err != nil {
		return fmt.Errorf("closing ngrok tunnel: %w", err)
	}
	return nil
}

func (n *NgrokTunnel) PublicURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

func (n *NgrokTunnel) Listener() net.Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listener
}
