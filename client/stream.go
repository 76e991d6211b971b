package client

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// Subscribe opens the server-sent change feed. The returned channel is closed
// when ctx is done or the stream ends; callers reconnect by subscribing again.
func (c *Client) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tasks/stream", nil)
	if err != nil {
		return nil, &RequestError{Op: "subscribe", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &RequestError{Op: "subscribe", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &RequestError{Op: "subscribe", Status: resp.StatusCode}
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var ev domain.Event
			if err := sonic.ConfigStd.UnmarshalFromString(strings.TrimSpace(line[len("data:"):]), &ev); err != nil {
				c.logger().WithError(err).Warn("skipping malformed change event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger().WithFields(log.Fields{"path": "/tasks/stream"}).WithError(err).Warn("change feed closed")
		}
	}()
	return out, nil
}
