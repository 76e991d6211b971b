package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// envInt reads a positive integer from the environment, falling back to def
// when the variable is unset or invalid.
func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.WithFields(log.Fields{"key": key, "value": raw}).Warn("ignoring invalid integer setting")
		return def
	}
	return n
}

// envDur reads a duration from the environment. Zero is accepted so a timeout
// can be disabled explicitly.
func envDur(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.WithFields(log.Fields{"key": key, "value": raw}).Warn("ignoring invalid duration setting")
		return def
	}
	return d
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
