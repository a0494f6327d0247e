package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeFormat has a fixed width so text timestamps sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const defaultLimit = 50

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// scanTime reads a timestamp stored as TIMESTAMPTZ or as text.
type scanTime struct {
	time.Time
}

func (s *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.Time = time.Time{}
		return nil
	case time.Time:
		s.Time = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (s *scanTime) parse(v string) error {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	s.Time = t.UTC()
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
