package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/acarl005/stripansi"
)

// NotFoundError reports that a grep pattern never matched. It is a test
// observation, not a harness fault: callers typically turn it into a
// FAILED assertion rather than propagating it.
type NotFoundError struct {
	File    string
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("expression %q not found in %s", e.Pattern, e.File)
}

// Match holds one regex match: "0" is the full match, positional groups are
// keyed "1", "2", ... and named capture groups by their name.
type Match map[string]string

// Grep returns the first match of pattern in the file. Lines are stripped
// of ANSI escapes before matching, so greps work on colorized process
// output. A missing file or invalid pattern is a harness fault; a pattern
// that never matches returns *NotFoundError.
func Grep(file, pattern string) (Match, error) {
	matches, err := grep(file, pattern, true)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &NotFoundError{File: file, Pattern: pattern}
	}
	return matches[0], nil
}

// GrepAll returns every match of pattern in the file, in line order.
func GrepAll(file, pattern string) ([]Match, error) {
	matches, err := grep(file, pattern, false)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &NotFoundError{File: file, Pattern: pattern}
	}
	return matches, nil
}

// Contains reports whether the pattern matches anywhere in the file.
func Contains(file, pattern string) (bool, error) {
	_, err := Grep(file, pattern)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WaitForGrep polls the file until the pattern matches, the timeout
// elapses, or the context is cancelled. This is the only operation in the
// engine that retries internally.
func WaitForGrep(ctx context.Context, file, pattern string, interval, timeout time.Duration) (Match, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m, err := Grep(file, pattern)
		if err == nil {
			return m, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		if timeout > 0 && time.Now().After(deadline) {
			return nil, &NotFoundError{File: file, Pattern: pattern}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func grep(file, pattern string, firstOnly bool) ([]Match, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file, err)
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := stripansi.Strip(scanner.Text())
		groups := re.FindStringSubmatch(line)
		if groups == nil {
			continue
		}

		m := make(Match)
		for i, name := range re.SubexpNames() {
			if i >= len(groups) {
				break
			}
			if name != "" {
				m[name] = groups[i]
			}
			m[fmt.Sprintf("%d", i)] = groups[i]
		}
		matches = append(matches, m)
		if firstOnly {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return matches, nil
}
