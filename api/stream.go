package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamEvents serves the change feed as server-sent events.
func (h *handlers) streamEvents(c echo.Context) error {
	if h.Broker == nil {
		return c.String(http.StatusNotFound, "change stream disabled")
	}
	userID, err := h.Auth.UserIDFromAuthHeader(streamAuthorization(c))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ch := h.Broker.Subscribe()
	defer h.Broker.Unsubscribe(ch)
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()
	h.Logger.WithField("user_id", userID).Debug("change stream opened")

	ticker := time.NewTicker(h.KeepAlive)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		case ev := <-ch:
			data, err := sonic.ConfigStd.Marshal(ev)
			if err != nil {
				h.Logger.WithError(err).Error("encode change event")
				continue
			}
			if _, err := res.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}
