// Package tunnel publishes the courier front end on a public HTTPS URL
// without opening a port on the host.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Tunnel hands out a listener whose connections arrive from a public URL.
type Tunnel interface {
	Start(ctx context.Context) (publicURL string, err error)
	Listener() net.Listener
	PublicURL() string
	Close() error
}

// Serve starts t and serves srv on its listener until srv is shut down.
// publish is called with the public URL once the tunnel is up, before
// any request is accepted.
func Serve(ctx context.Context, t Tunnel, srv *http.Server, publish func(publicURL string)) error {
	publicURL, err := t.Start(ctx)
	if err != nil {
		return err
	}
	if publish != nil {
		publish(publicURL)
	}

	slog.Info("serving through tunnel", "public_url", publicURL)
	if err := srv.Serve(t.Listener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving tunnel: %w", err)
	}
	return nil
}
