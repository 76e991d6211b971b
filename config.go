package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type config struct {
	ListenAddr string

	StorageConn  string
	TasksTable   string
	EventQueue   string
	FixturesPath string

	RedisConn     string
	DeduperTTL    time.Duration
	TasksCacheTTL time.Duration
	EventsChannel string

	MaxBodyBytes     int64
	StreamKeepAlive  time.Duration
	ShutdownTimeout  time.Duration
	TraceSampleRatio float64
	PprofEnabled     bool
}

func loadConfig() config {
	cfg := config{
		ListenAddr:       ":8080",
		StorageConn:      os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:       envString("TASKS_TABLE", "Tasks"),
		EventQueue:       os.Getenv("EVENT_QUEUE"),
		FixturesPath:     os.Getenv("FIXTURES_PATH"),
		RedisConn:        os.Getenv("REDIS_CONNECTION_STRING"),
		DeduperTTL:       envDur("DEDUPER_TTL", 24*time.Hour),
		TasksCacheTTL:    envDur("TASKS_CACHE_TTL", 30*time.Second),
		EventsChannel:    envString("EVENTS_CHANNEL", "task-events"),
		MaxBodyBytes:     int64(envInt("MAX_BODY_BYTES", 1<<20)),
		StreamKeepAlive:  envDur("STREAM_KEEPALIVE", 25*time.Second),
		ShutdownTimeout:  envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
		TraceSampleRatio: 1,
	}
	if val := os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); val != "" {
		cfg.ListenAddr = ":" + val
	}
	if v := os.Getenv("TRACE_SAMPLE_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			log.Fatalf("invalid TRACE_SAMPLE_RATIO: must be between 0 and 1")
		}
		cfg.TraceSampleRatio = r
	}
	if v := os.Getenv("PPROF_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			log.Fatalf("invalid PPROF_ENABLED: %v", err)
		}
		cfg.PprofEnabled = on
	}
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	if n <= 0 {
		log.Fatalf("invalid %s: must be greater than zero", key)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return d
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
