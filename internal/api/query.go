package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ParseIntParam parses an integer query value within [min, max]. An empty
// value yields def.
func ParseIntParam(value string, min, max, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be a valid integer")
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return v, nil
}

// ParseTimeParam parses an RFC3339 query value. An empty value yields the
// zero time.
func ParseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp")
	}
	return t, nil
}

// ParsePage reads 1-based page and limit query values.
func ParsePage(q url.Values, defaultLimit, maxLimit int) (page, limit int, err error) {
	if page, err = ParseIntParam(q.Get("page"), 1, 1<<20, 1); err != nil {
		return 0, 0, fmt.Errorf("page %w", err)
	}
	if limit, err = ParseIntParam(q.Get("limit"), 1, maxLimit, defaultLimit); err != nil {
		return 0, 0, fmt.Errorf("limit %w", err)
	}
	return page, limit, nil
}
