package agent

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/focus"
)

// ParseFocusLine reads one line of the focus input. "pkg" reports a window
// change; "pkg|text" reports visible text inside pkg.
func ParseFocusLine(line string) (focus.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return focus.Event{}, false
	}
	pkg, text, hasText := strings.Cut(line, "|")
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return focus.Event{}, false
	}
	if hasText {
		return focus.Event{Package: pkg, Kind: focus.ContentChanged, Text: strings.TrimSpace(text)}, true
	}
	return focus.Event{Package: pkg, Kind: focus.WindowChanged}, true
}

// FeedFocus submits every parsed line of r until r ends or ctx is done.
func FeedFocus(ctx context.Context, r io.Reader, submit func(focus.Event) bool) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if e, ok := ParseFocusLine(sc.Text()); ok {
			submit(e)
		}
	}
	if err := sc.Err(); err != nil {
		return errors.New(err).
			Component("agent").
			Category(errors.CategoryFileIO).
			Context("operation", "read_focus_input").
			Build()
	}
	return nil
}
