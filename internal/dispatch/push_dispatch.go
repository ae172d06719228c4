package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// PushDispatcher tries the driver's websocket first and falls back to
// posting the event to a webhook endpoint.
type PushDispatcher struct {
	Endpoint string // e.g. provider HTTP endpoint
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Publish(ctx context.Context, e models.Event) error {
	if p.WS != nil {
		err := p.WS.Publish(ctx, e)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) && p.Endpoint == "" {
			return err
		}
	}
	if p.Endpoint == "" {
		return nil
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", e.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push %s: endpoint returned %d", e.Type, resp.StatusCode)
	}
	return nil
}

func (p *PushDispatcher) client() *http.Client {
	if p.Client == nil {
		return http.DefaultClient
	}
	return p.Client
}
