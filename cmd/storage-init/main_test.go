package main

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"taskmaster/domain"
)

type recordingWriter struct {
	ids    []int64
	failOn int64
}

func (w *recordingWriter) PutTask(_ context.Context, t domain.Task) error {
	if t.ID == w.failOn {
		return errors.New("write failed")
	}
	w.ids = append(w.ids, t.ID)
	return nil
}

func TestPutAllStopsAtFirstError(t *testing.T) {
	w := &recordingWriter{failOn: 2}
	n, err := putAll(context.Background(), w, []domain.Task{{ID: 1}, {ID: 2}, {ID: 3}})
	if err == nil || n != 1 {
		t.Fatalf("expected failure after one task, got n=%d err=%v", n, err)
	}
	if len(w.ids) != 1 || w.ids[0] != 1 {
		t.Fatalf("unexpected writes %v", w.ids)
	}
}

func TestAlreadyExists(t *testing.T) {
	err := &azcore.ResponseError{ErrorCode: queueAlreadyExists, StatusCode: http.StatusConflict}
	if !alreadyExists(err, queueAlreadyExists) {
		t.Fatal("expected queue conflict to be tolerated")
	}
	if alreadyExists(err, "TableAlreadyExists") {
		t.Fatal("unexpected match for a different code")
	}
	if alreadyExists(errors.New("boom"), queueAlreadyExists) {
		t.Fatal("plain errors must not match")
	}
}
