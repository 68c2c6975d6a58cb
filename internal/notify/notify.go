package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier pushes plain-text messages to an ntfy-style HTTP endpoint.
// A Notifier with an empty endpoint discards everything, so callers
// never need to branch on whether notifications are configured.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func NewNotifier(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{endpoint: endpoint, client: client}
}

// Send posts the message. No-op when no endpoint is configured.
func (n *Notifier) Send(ctx context.Context, message string) error {
	if n.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Sendf formats and posts a message.
func (n *Notifier) Sendf(ctx context.Context, format string, args ...any) error {
	return n.Send(ctx, fmt.Sprintf(format, args...))
}
