package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/board"
	"taskmaster/domain"
	"taskmaster/storage"
)

const (
	maxBodySize       = 64 * 1024 // 64 KiB
	idempotencyHeader = "Idempotency-Key"
)

var (
	errInvalidTaskID      = errors.New("invalid task id")
	errInvalidBody        = errors.New("invalid body")
	errEmptyUpdate        = errors.New("update has no fields")
	errUnknownUser        = errors.New("unknown user")
	errNoUsers            = errors.New("user_ids must not be empty")
	errEmptyChecklistText = errors.New("checklist item text is required")
	errCreateInProgress   = errors.New("a request with this idempotency key is in progress")
)

// Options are the collaborators of the HTTP handlers. Deduper, Events,
// Broker and Ping are optional.
type Options struct {
	Store   Storage
	Users   Directory
	Auth    Authenticator
	Deduper Deduper
	Events  *Dispatcher
	Broker  *Broker
	Ping    func(ctx context.Context) error
	Logger  *log.Logger
	Now     func() time.Time
	// KeepAlive is the interval of comment frames on the change stream.
	KeepAlive time.Duration
}

type handlers struct {
	Options
	clock eventClock
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, opts Options) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	h := &handlers{Options: opts}
	h.clock.now = opts.Now
	e.JSONSerializer = sonicSerializer{}

	e.GET("/healthz", h.healthz)
	g := e.Group("/tasks")
	g.GET("", h.observed("/tasks", h.listTasks))
	g.POST("", h.observed("/tasks", h.createTask))
	g.GET("/stream", h.streamEvents)
	g.GET("/:id", h.observed("/tasks/:id", h.getTask))
	g.PUT("/:id", h.observed("/tasks/:id", h.updateTask))
	g.POST("/:id/cancel", h.observed("/tasks/:id/cancel", h.cancelTask))
	g.POST("/:id/assign", h.observed("/tasks/:id/assign", h.assignUser))
	g.POST("/:id/assign-multiple", h.observed("/tasks/:id/assign-multiple", h.assignUsers))
	g.POST("/:id/unassign", h.observed("/tasks/:id/unassign", h.unassignUser))
	g.POST("/:id/checklist/add", h.observed("/tasks/:id/checklist/add", h.addChecklistItem))
	g.PUT("/:id/checklist/update", h.observed("/tasks/:id/checklist/update", h.updateChecklistItem))
	g.DELETE("/:id/checklist/remove", h.observed("/tasks/:id/checklist/remove", h.removeChecklistItem))
}

type observedHandler func(c echo.Context, m *requestMetrics) error

func (h *handlers) observed(route string, fn observedHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.Logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return fn(c, metrics)
	}
}

func (h *handlers) healthz(c echo.Context) error {
	if h.Ping == nil {
		return c.NoContent(http.StatusOK)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Ping(ctx); err != nil {
		h.Logger.WithError(err).Warn("health check failed")
		return c.String(http.StatusServiceUnavailable, "unhealthy")
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) authenticate(c echo.Context, m *requestMetrics) (int64, error) {
	start := time.Now()
	userID, err := h.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
	}
	return userID, err
}

func taskIDParam(c echo.Context, m *requestMetrics) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		m.SetErrorStage("invalid_task_id")
		return 0, errInvalidTaskID
	}
	m.SetTaskID(id)
	return id, nil
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

// writeError maps a handler error to a response.
func (h *handlers) writeError(c echo.Context, m *requestMetrics, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrConcurrencyConflict), errors.Is(err, errCreateInProgress):
		m.SetErrorStage("conflict")
		return c.String(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrTitleRequired),
		errors.Is(err, domain.ErrChecklistIndex),
		errors.Is(err, errInvalidTaskID),
		errors.Is(err, errInvalidBody),
		errors.Is(err, errEmptyUpdate),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, errUnknownUser),
		errors.Is(err, errNoUsers),
		errors.Is(err, errEmptyChecklistText):
		m.SetErrorStage("validation")
		return c.String(http.StatusBadRequest, err.Error())
	}
	m.SetErrorStage("storage")
	h.Logger.WithError(err).WithField("path", c.Path()).Error("task request failed")
	return c.String(http.StatusInternalServerError, "internal error")
}

func (h *handlers) respond(c echo.Context, m *requestMetrics, status int, v any) error {
	start := time.Now()
	err := c.JSON(status, v)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

func (h *handlers) publish(typ string, taskID, userID int64) {
	if h.Events == nil {
		return
	}
	h.Events.Dispatch(domain.Event{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Type:   typ,
		UserID: userID,
		Time:   h.clock.Next(),
	})
}

func (h *handlers) listTasks(c echo.Context, m *requestMetrics) error {
	userID, err := h.authenticate(c, m)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	filter, err := board.ParseFilter(c.QueryParam("scope"), c.QueryParam("status"), c.QueryParam("priority"), c.QueryParam("assignee"))
	if err != nil {
		m.SetErrorStage("invalid_filter")
		return c.String(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	tasks, err := h.Store.ListTasks(c.Request().Context())
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, m, err)
	}
	tasks = filter.Apply(tasks, userID)
	m.SetTasksReturned(len(tasks))
	return h.respond(c, m, http.StatusOK, tasks)
}

func (h *handlers) getTask(c echo.Context, m *requestMetrics) error {
	if _, err := h.authenticate(c, m); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id, err := taskIDParam(c, m)
	if err != nil {
		return h.writeError(c, m, err)
	}
	start := time.Now()
	t, err := h.Store.GetTask(c.Request().Context(), id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, m, err)
	}
	m.SetTasksReturned(1)
	return h.respond(c, m, http.StatusOK, t)
}

func (h *handlers) createTask(c echo.Context, m *requestMetrics) error {
	userID, err := h.authenticate(c, m)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var in domain.TaskCreate
	if err := decodeBody(c, &in); err != nil {
		return h.writeError(c, m, err)
	}
	if err := in.Validate(); err != nil {
		return h.writeError(c, m, err)
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key != "" && h.Deduper != nil {
		prior, fresh, err := h.Deduper.Reserve(ctx, userID, key)
		if err != nil {
			h.Logger.WithError(err).Warn("idempotency check failed; creating without dedupe")
			key = ""
		} else if !fresh {
			if prior == 0 {
				return h.writeError(c, m, errCreateInProgress)
			}
			t, err := h.Store.GetTask(ctx, prior)
			if err != nil {
				return h.writeError(c, m, err)
			}
			m.SetTaskID(t.ID)
			return h.respond(c, m, http.StatusOK, t)
		}
	} else {
		key = ""
	}

	start := time.Now()
	t, err := h.Store.CreateTask(ctx, userID, in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		if key != "" {
			if rerr := h.Deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				h.Logger.WithError(rerr).WithField("key", key).Error("dedupe rollback failed")
			}
		}
		return h.writeError(c, m, err)
	}
	if key != "" {
		if err := h.Deduper.Complete(ctx, userID, key, t.ID); err != nil {
			h.Logger.WithError(err).WithField("key", key).Warn("dedupe completion failed")
		}
	}
	m.SetTaskID(t.ID)
	h.publish(domain.TaskCreated, t.ID, userID)
	return h.respond(c, m, http.StatusCreated, t)
}

// mutate authenticates, decodes req into body when non-nil, applies fn to the
// addressed task and answers with the stored result.
func (h *handlers) mutate(c echo.Context, m *requestMetrics, body any, eventType string, fn func(t *domain.Task, now time.Time) error) error {
	userID, err := h.authenticate(c, m)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id, err := taskIDParam(c, m)
	if err != nil {
		return h.writeError(c, m, err)
	}
	if body != nil {
		if err := decodeBody(c, body); err != nil {
			return h.writeError(c, m, err)
		}
	}
	now := h.Now().UTC()
	start := time.Now()
	t, err := h.Store.UpdateTask(c.Request().Context(), id, func(t *domain.Task) error {
		return fn(t, now)
	})
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, m, err)
	}
	h.publish(eventType, t.ID, userID)
	return h.respond(c, m, http.StatusOK, t)
}

func (h *handlers) updateTask(c echo.Context, m *requestMetrics) error {
	var u domain.TaskUpdate
	return h.mutate(c, m, &u, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		if u.Empty() {
			return errEmptyUpdate
		}
		return t.Apply(u, now)
	})
}

func (h *handlers) cancelTask(c echo.Context, m *requestMetrics) error {
	var req domain.CancelRequest
	return h.mutate(c, m, &req, domain.TaskCancelled, func(t *domain.Task, now time.Time) error {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return domain.ErrReasonRequired
		}
		t.Cancel(reason, now)
		return nil
	})
}

func (h *handlers) userName(id int64) (string, error) {
	if id <= 0 {
		return "", errUnknownUser
	}
	if h.Users == nil {
		return "", nil
	}
	u, ok := h.Users.User(id)
	if !ok {
		return "", errUnknownUser
	}
	return u.Name, nil
}

func (h *handlers) assignUser(c echo.Context, m *requestMetrics) error {
	var req domain.AssignRequest
	return h.mutate(c, m, &req, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		name, err := h.userName(req.UserID)
		if err != nil {
			return err
		}
		t.Assign(req.UserID, name, now)
		return nil
	})
}

func (h *handlers) assignUsers(c echo.Context, m *requestMetrics) error {
	var req domain.AssignManyRequest
	return h.mutate(c, m, &req, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		if len(req.UserIDs) == 0 {
			return errNoUsers
		}
		names := make([]string, len(req.UserIDs))
		for i, id := range req.UserIDs {
			name, err := h.userName(id)
			if err != nil {
				return err
			}
			names[i] = name
		}
		for i, id := range req.UserIDs {
			t.Assign(id, names[i], now)
		}
		return nil
	})
}

func (h *handlers) unassignUser(c echo.Context, m *requestMetrics) error {
	var req domain.AssignRequest
	return h.mutate(c, m, &req, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		t.Unassign(req.UserID, now)
		return nil
	})
}

func (h *handlers) addChecklistItem(c echo.Context, m *requestMetrics) error {
	var item domain.ChecklistItem
	return h.mutate(c, m, &item, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		item.Text = strings.TrimSpace(item.Text)
		if item.Text == "" {
			return errEmptyChecklistText
		}
		t.AddChecklistItem(item, now)
		return nil
	})
}

func (h *handlers) updateChecklistItem(c echo.Context, m *requestMetrics) error {
	var req domain.ChecklistUpdateRequest
	return h.mutate(c, m, &req, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		if req.Text == nil && req.Completed == nil {
			return errEmptyUpdate
		}
		return t.UpdateChecklistItem(req.Index, req.Text, req.Completed, now)
	})
}

func (h *handlers) removeChecklistItem(c echo.Context, m *requestMetrics) error {
	var req domain.ChecklistRemoveRequest
	return h.mutate(c, m, &req, domain.TaskUpdated, func(t *domain.Task, now time.Time) error {
		return t.RemoveChecklistItem(req.Index, now)
	})
}
