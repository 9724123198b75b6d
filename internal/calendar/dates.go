package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDate turns a due date typed by a user into a time. ISO dates
// (2006-01-02) and RFC 3339 timestamps are accepted as-is; anything else
// goes through natural-language parsing relative to now ("tomorrow",
// "next friday", "in 3 days").
func ParseDate(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", text)
	}
	return r.Time, nil
}
