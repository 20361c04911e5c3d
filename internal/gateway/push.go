package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/notify"
)

// Pusher reaches drivers that have no live connection anywhere.
type Pusher interface {
	Push(ctx context.Context, driverID string, n notify.Notification) error
}

// HTTPPush posts an FCM-style data message to a push provider endpoint.
// Drivers subscribe to the topic "driver-<id>".
type HTTPPush struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPPush(endpoint, key string) *HTTPPush {
	return &HTTPPush{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *HTTPPush) Push(ctx context.Context, driverID string, n notify.Notification) error {
	payload, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"topic": "driver-" + driverID,
			"data":  map[string]string{"event": n.Event, "payload": string(payload)},
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push %s: http %d", driverID, resp.StatusCode)
	}
	return nil
}
