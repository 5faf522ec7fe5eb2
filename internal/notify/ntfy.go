package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultNtfyServer is used when only a topic is configured.
const DefaultNtfyServer = "https://ntfy.sh"

// Ntfy posts the alert to an ntfy topic, which relays it to phones
// subscribed to the topic.
type Ntfy struct {
	Server string
	Topic  string

	// Client defaults to a client with a short timeout.
	Client *http.Client

	now func() time.Time
}

func (*Ntfy) Name() string { return "ntfy" }

// AuthExpired posts the alert.
func (n *Ntfy) AuthExpired(ctx context.Context, username string) error {
	server := n.Server
	if server == "" {
		server = DefaultNtfyServer
	}

	nowFn := n.now
	if nowFn == nil {
		nowFn = time.Now
	}

	subject, body := messageText(username, nowFn())

	url := strings.TrimSuffix(server, "/") + "/" + n.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: creating ntfy request: %w", err)
	}

	req.Header.Set("Title", subject)
	req.Header.Set("Priority", "high")
	req.Header.Set("Tags", "warning,icloud")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting to ntfy: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: ntfy returned HTTP %d", resp.StatusCode)
	}

	return nil
}
