package api

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"taskmaster/board"
	"taskmaster/client"
	"taskmaster/domain"
	"taskmaster/storage"
)

var e2eSecret = []byte("e2e-secret")

type e2eServer struct {
	url    string
	store  *storage.Memory
	broker *Broker
}

func startServer(t *testing.T) *e2eServer {
	t.Helper()
	store := storage.NewMemory(seedTasks())
	broker := NewBroker(quietLogger())
	events := NewDispatcher(broker, DispatcherConfig{Workers: 2, Buffer: 64, PublishTimeout: time.Second}, quietLogger())
	t.Cleanup(events.Close)

	e := echo.New()
	Register(e, Options{
		Store:  store,
		Users:  storage.NewDirectory([]domain.User{{ID: 7, Name: "Demo User"}, {ID: 9, Name: "Sam Okoro"}}),
		Auth:   &Auth{TestMode: true, TestSecret: e2eSecret},
		Events: events,
		Broker: broker,
		Logger: quietLogger(),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &e2eServer{url: srv.URL, store: store, broker: broker}
}

func (s *e2eServer) client(t *testing.T, userID int64) *client.Client {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auth0|" + strconv.FormatInt(userID, 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(e2eSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	c := client.New(s.url, signed)
	c.Logger = quietLogger()
	return c
}

func TestBoardDragAgainstServer(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	b := board.New(srv.client(t, 7), board.Config{CurrentUserID: 7, Logger: quietLogger(), RequestTimeout: 5 * time.Second})
	defer b.Close()
	if err := b.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Store().Len() != 3 {
		t.Fatalf("expected 3 tasks, got %d", b.Store().Len())
	}

	target := board.ColumnTarget(domain.StatusInProgress)
	if !b.PointerDown(1, board.Point{}) {
		t.Fatal("pointer down rejected")
	}
	b.PointerMove(board.Point{X: 40}, target)
	rel, pending, err := b.PointerUp(ctx, board.Point{X: 40}, target)
	if err != nil || rel.Outcome != board.OutcomeIntent || pending == nil {
		t.Fatalf("unexpected release %+v pending=%v err=%v", rel, pending, err)
	}
	res := pending.Wait()
	if res.Err != nil || res.Task.Status != domain.StatusInProgress {
		t.Fatalf("unexpected result %+v", res)
	}

	stored, err := srv.store.GetTask(ctx, 1)
	if err != nil || stored.Status != domain.StatusInProgress || stored.Priority != domain.PriorityHigh {
		t.Fatalf("server copy not updated: %+v %v", stored, err)
	}
}

func TestStreamDeliversChanges(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := srv.client(t, 7).Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if srv.broker.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", srv.broker.Subscribers())
	}

	if _, err := srv.client(t, 9).Cancel(ctx, 2, "obsolete"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case ev := <-events:
		if ev.TaskID != 2 || ev.Type != domain.TaskCancelled || ev.UserID != 9 || ev.ID == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change event")
	}
}

func TestBoardFollowsOtherUsers(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	me := srv.client(t, 7)
	b := board.New(me, board.Config{CurrentUserID: 7, Logger: quietLogger()})
	defer b.Close()
	if err := b.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	go b.Follow(ctx, me)

	deadline := time.Now().Add(2 * time.Second)
	for srv.broker.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("board never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := srv.client(t, 9).Update(ctx, 3, domain.StatusChange(domain.StatusCompleted, domain.PriorityLow)); err != nil {
		t.Fatalf("update: %v", err)
	}
	for {
		if got, ok := b.Store().Get(3); ok && got.Status == domain.StatusCompleted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("board did not pick up the remote change")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
