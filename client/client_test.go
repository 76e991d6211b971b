package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"taskmaster/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *test.Hook) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger, hook := test.NewNullLogger()
	c := New(srv.URL+"/", "token-123")
	c.Logger = logger
	return c, hook
}

func TestFetchAllSkipsInvalidRecords(t *testing.T) {
	c, hook := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id":1,"title":"a","status":"assigned","priority":"high","progress_percentage":0},
			{"id":2,"title":"b","status":"blocked","priority":"high","progress_percentage":0},
			{"id":3,"title":"c","status":"on_hold","priority":"low","progress_percentage":40}
		]`)
	})

	tasks, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != 1 || tasks[1].ID != 3 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[1].Status != domain.StatusOnHold || tasks[1].ProgressPercentage != 40 {
		t.Fatalf("unexpected decoded task %+v", tasks[1])
	}
	if len(hook.Entries) != 1 || hook.LastEntry().Data["index"] != 1 {
		t.Fatalf("expected one warning for index 1, got %+v", hook.Entries)
	}
}

func TestUpdateSendsMinimalDiff(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
	)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tasks/5" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		mu.Unlock()
		io.WriteString(w, `{"id":5,"title":"x","status":"in_progress","priority":"medium","progress_percentage":0}`)
	})

	got, err := c.Update(context.Background(), 5, domain.StatusChange(domain.StatusInProgress, domain.PriorityMedium))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("unexpected task %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if body != `{"status":"in_progress","priority":"medium"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestCreateSendsIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(IdempotencyHeader))
		mu.Unlock()
		var in domain.TaskCreate
		if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.Title != "New" {
			t.Errorf("unexpected title %q", in.Title)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":9,"title":"New","status":"assigned","priority":"medium","progress_percentage":0}`)
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Create(context.Background(), domain.TaskCreate{Title: "New"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] == "" || keys[0] == keys[1] {
		t.Fatalf("expected two distinct keys, got %v", keys)
	}
}

func TestSubResourceRoutes(t *testing.T) {
	type call struct{ method, path, body string }
	var (
		mu    sync.Mutex
		calls []call
	)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, string(b)})
		mu.Unlock()
		io.WriteString(w, `{"id":4,"title":"x","status":"assigned","priority":"low","progress_percentage":0}`)
	})
	ctx := context.Background()
	done := true

	c.Cancel(ctx, 4, "dup")
	c.Assign(ctx, 4, 11)
	c.AssignMany(ctx, 4, []int64{11, 12})
	c.Unassign(ctx, 4, 11)
	c.AddChecklistItem(ctx, 4, domain.ChecklistItem{Text: "step"})
	c.UpdateChecklistItem(ctx, 4, 0, nil, &done)
	c.RemoveChecklistItem(ctx, 4, 0)

	want := []call{
		{http.MethodPost, "/tasks/4/cancel", `{"reason":"dup"}`},
		{http.MethodPost, "/tasks/4/assign", `{"user_id":11}`},
		{http.MethodPost, "/tasks/4/assign-multiple", `{"user_ids":[11,12]}`},
		{http.MethodPost, "/tasks/4/unassign", `{"user_id":11}`},
		{http.MethodPost, "/tasks/4/checklist/add", `{"text":"step","completed":false}`},
		{http.MethodPut, "/tasks/4/checklist/update", `{"index":0,"completed":true}`},
		{http.MethodDelete, "/tasks/4/checklist/remove", `{"index":0}`},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], calls[i])
		}
	}
}

func TestNon2xxBecomesRequestError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), 3)
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if rerr.Status != http.StatusNotFound || rerr.Message != "task not found" || rerr.Op != "get task" {
		t.Fatalf("unexpected error %+v", rerr)
	}
}

func TestTransportFailureBecomesRequestError(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	c.HTTP = &http.Client{Timeout: time.Second}

	_, err := c.FetchAll(context.Background())
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.Status != 0 || rerr.Err == nil {
		t.Fatalf("expected transport RequestError, got %v", err)
	}
}

func TestCallsAreTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	}()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c.FetchAll(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "collaborator.fetch_tasks" || spans[0].Status.Code != codes.Error {
		t.Fatalf("unexpected span %s %v", spans[0].Name, spans[0].Status)
	}
}

func TestSubscribeDecodesEvents(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": ping\n\n")
		io.WriteString(w, "data: not json\n\n")
		io.WriteString(w, `data: {"id":"e1","taskId":3,"type":"task-updated","userId":2,"time":1}`+"\n\n")
		io.WriteString(w, `data: {"id":"e2","taskId":4,"type":"task-created","userId":2,"time":2}`+"\n\n")
	})

	events, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var got []string
	for ev := range events {
		got = append(got, ev.ID)
	}
	if strings.Join(got, ",") != "e1,e2" {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSubscribeRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Subscribe(context.Background())
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 RequestError, got %v", err)
	}
}
