package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prior-auth-mcp-server/internal/domain"
)

var leadingIntPattern = regexp.MustCompile(`[-+]?\d+`)

// IntResult is the outcome of a lenient integer parse. OK is false when no integer could be
// read, which lets callers tell a stored zero from garbage.
type IntResult struct {
	Value int64
	OK    bool
}

// OrDefault returns the parsed value, or def when parsing failed.
func (r IntResult) OrDefault(def int64) int64 {
	if !r.OK {
		return def
	}
	return r.Value
}

// ParseLenientInt reads the first signed integer from free text after dropping thousands
// separators. "1,234 visits" parses to 1234 and "n/a" fails.
func ParseLenientInt(v any) IntResult {
	switch x := v.(type) {
	case nil:
		return IntResult{}
	case int:
		return IntResult{Value: int64(x), OK: true}
	case int32:
		return IntResult{Value: int64(x), OK: true}
	case int64:
		return IntResult{Value: x, OK: true}
	case []byte:
		return parseLenientIntString(string(x))
	case string:
		return parseLenientIntString(x)
	default:
		return parseLenientIntString(fmt.Sprint(x))
	}
}

func parseLenientIntString(s string) IntResult {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	m := leadingIntPattern.FindString(s)
	if m == "" {
		return IntResult{}
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return IntResult{}
	}
	return IntResult{Value: n, OK: true}
}

// DateParser parses calendar dates by trying a fixed list of layouts in order.
type DateParser struct {
	layouts []string
}

// NewDateParser returns a parser for the given layouts, or the default claim date layouts
// when none are given.
func NewDateParser(layouts []string) *DateParser {
	if len(layouts) == 0 {
		layouts = domain.DefaultDateFormats()
	}
	return &DateParser{layouts: layouts}
}

// Parse trims s, keeps its first 10 characters and returns the first layout that matches.
// The result is a UTC midnight date. ok is false when nothing matched.
func (p *DateParser) Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if r := []rune(s); len(r) > 10 {
		s = string(r[:10])
	}
	for _, layout := range p.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var defaultDateParser = NewDateParser(nil)

// ParseLenientDate parses s with the default layouts.
func ParseLenientDate(s string) (time.Time, bool) {
	return defaultDateParser.Parse(s)
}

// civilDate truncates t to midnight UTC of its calendar day in t's own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole days from a to b. Both must be civil dates.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
