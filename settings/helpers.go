package settings

import (
	"strconv"
	"strings"
	"time"

	"github.com/ordishs/gocore"
)

// source resolves a setting from the command line flags, then the
// configuration file, then the gocore settings files.
type source struct {
	flags map[string]string
	conf  map[string]string
}

func (s *source) lookup(key string) (string, bool) {
	if v, ok := s.flags[key]; ok {
		return v, true
	}

	if v, ok := s.conf[key]; ok {
		return v, true
	}

	return gocore.Config().Get(key)
}

func (s *source) getString(key, defaultValue string) string {
	value, found := s.lookup(key)
	if !found {
		return defaultValue
	}

	return value
}

func (s *source) getMultiString(key string) []string {
	value, found := s.lookup(key)
	if !found || value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func (s *source) getInt(key string, defaultValue int) int {
	value, found := s.lookup(key)
	if !found {
		return defaultValue
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}

	return n
}

func (s *source) getInt64(key string, defaultValue int64) int64 {
	value, found := s.lookup(key)
	if !found {
		return defaultValue
	}

	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return defaultValue
	}

	return n
}

// getBool treats a bare flag, "1", "true", "yes" and "on" as true.
func (s *source) getBool(key string, defaultValue bool) bool {
	value, found := s.lookup(key)
	if !found {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func (s *source) getDuration(key string, defaultValue time.Duration) time.Duration {
	value, found := s.lookup(key)
	if !found {
		return defaultValue
	}

	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}

	return d
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
