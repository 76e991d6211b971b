package api

import (
	"testing"
	"time"
)

func TestWorkerDefaultsFollowLargerDemand(t *testing.T) {
	cases := []struct {
		queue, cpu  int
		wantWorkers int
	}{
		{queue: 0, cpu: 0, wantWorkers: minWorkers},
		{queue: 10, cpu: 2, wantWorkers: 48},
		{queue: 40, cpu: 1, wantWorkers: 160},
		{queue: 1, cpu: 9, wantWorkers: maxWorkers},
	}
	for _, c := range cases {
		workers, buffer := computeWorkerDefaults(c.queue, c.cpu)
		if workers != c.wantWorkers {
			t.Errorf("queue=%d cpu=%d: got %d workers, want %d", c.queue, c.cpu, workers, c.wantWorkers)
		}
		if buffer != workers*bufferPerWorker {
			t.Errorf("queue=%d cpu=%d: buffer %d is not sized per worker", c.queue, c.cpu, buffer)
		}
	}
}

func TestDispatcherConfigDefaults(t *testing.T) {
	for _, key := range []string{"EVENT_WORKERS", "EVENT_BUFFER", "EVENT_PUBLISH_TIMEOUT", "EVENT_HANDOFF_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg := DispatcherConfigFromEnv(8, 2)
	want := DispatcherConfig{Workers: 48, Buffer: 48 * bufferPerWorker, PublishTimeout: 10 * time.Second, HandoffTimeout: 15 * time.Millisecond}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestDispatcherConfigEnvironment(t *testing.T) {
	t.Setenv("EVENT_WORKERS", " 5 ")
	t.Setenv("EVENT_BUFFER", "-1")
	t.Setenv("EVENT_PUBLISH_TIMEOUT", "2s")
	t.Setenv("EVENT_HANDOFF_TIMEOUT", "0")

	cfg := DispatcherConfigFromEnv(0, 1)
	if cfg.Workers != 5 {
		t.Errorf("workers: got %d", cfg.Workers)
	}
	if cfg.Buffer != minWorkers*bufferPerWorker {
		t.Errorf("negative buffer should fall back, got %d", cfg.Buffer)
	}
	if cfg.PublishTimeout != 2*time.Second {
		t.Errorf("publish timeout: got %v", cfg.PublishTimeout)
	}
	if cfg.HandoffTimeout != 0 {
		t.Errorf("zero handoff timeout should be kept, got %v", cfg.HandoffTimeout)
	}
}

func TestEnvDurRejectsNegative(t *testing.T) {
	t.Setenv("STREAM_TEST_DELAY", "-3s")
	if got := envDur("STREAM_TEST_DELAY", time.Minute); got != time.Minute {
		t.Fatalf("got %v", got)
	}
	t.Setenv("STREAM_TEST_DELAY", "soon")
	if got := envDur("STREAM_TEST_DELAY", time.Minute); got != time.Minute {
		t.Fatalf("got %v", got)
	}
}
