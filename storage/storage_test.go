package storage

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"taskmaster/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	deadline := time.Date(2025, 3, 14, 17, 0, 0, 0, time.UTC)
	in := domain.Task{
		ID:        42,
		Title:     "Ship it",
		Status:    domain.StatusOnHold,
		Priority:  domain.PriorityHigh,
		Deadline:  &deadline,
		Checklist: []domain.ChecklistItem{{Text: "a", Completed: true}},
		CreatedAt: deadline,
		UpdatedAt: deadline,
	}
	data, err := encodeTaskEntity(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"PartitionKey":"tasks"`, `"RowKey":"0000000000000000042"`, `"Status":"on_hold"`, `"Priority":"high"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("entity %s missing %s", s, want)
		}
	}

	out, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != 42 || out.Status != domain.StatusOnHold || !out.Deadline.Equal(deadline) || len(out.Checklist) != 1 {
		t.Fatalf("unexpected task %+v", out)
	}
}

func TestDecodeTaskEntityRejectsUnknownStatus(t *testing.T) {
	data := []byte(`{"PartitionKey":"tasks","RowKey":"0000000000000000001","Data":"{\"id\":1,\"status\":\"blocked\",\"priority\":\"low\"}"}`)
	if _, err := decodeTaskEntity(data); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeTaskEntityFallsBackToRowKey(t *testing.T) {
	data := []byte(`{"PartitionKey":"tasks","RowKey":"0000000000000000009","Data":"{\"title\":\"x\",\"status\":\"assigned\",\"priority\":\"low\"}"}`)
	got, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 9 {
		t.Fatalf("expected id 9, got %d", got.ID)
	}
}

func TestMapError(t *testing.T) {
	notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound}
	if !errors.Is(mapError(fmt.Errorf("wrapped: %w", notFound)), ErrNotFound) {
		t.Fatal("expected ErrNotFound")
	}
	other := &azcore.ResponseError{StatusCode: http.StatusInternalServerError}
	if err := mapError(other); errors.Is(err, ErrNotFound) || statusCode(err) != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping %v", err)
	}
	if statusCode(errors.New("plain")) != 0 {
		t.Fatal("expected zero status for plain errors")
	}
}

func TestQueueConcurrencyScalesWithCPU(t *testing.T) {
	for cpu, want := range map[int]int{
		-2: defaultQueueConcurrency,
		0:  defaultQueueConcurrency,
		2:  2 * queuePerCPU,
		6:  60,
		7:  maxQueueConcurrency,
		64: maxQueueConcurrency,
	} {
		if got := queueConcurrencyForCPU(cpu); got != want {
			t.Errorf("%d cpus: got %d sends, want %d", cpu, got, want)
		}
	}
}
