package keyword

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// LoadStats summarises one blocklist load.
type LoadStats struct {
	Keywords int // distinct keywords accepted
	Skipped  int // malformed lines or unknown categories
}

// ParseBlocklist reads grouped records of the form
//
//	category: word, word, ...
//
// Blank lines and lines starting with '#' are ignored. Lines that cannot be
// parsed are counted in LoadStats.Skipped and do not stop the load, so a
// partially broken list still contributes its valid records. The returned
// error is only set for read failures.
func ParseBlocklist(r io.Reader) (map[string]detection.Category, LoadStats, error) {
	words := make(map[string]detection.Category)
	var stats LoadStats
	log := GetLogger()

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, list, ok := strings.Cut(line, ":")
		if !ok {
			stats.Skipped++
			log.Warn("skipping malformed blocklist line", logger.Int("line", lineNo))
			continue
		}
		category, ok := detection.ParseCategory(name)
		if !ok || category == detection.CategoryTampering {
			stats.Skipped++
			log.Warn("skipping blocklist line with unknown category",
				logger.Int("line", lineNo),
				logger.String("category", strings.TrimSpace(name)))
			continue
		}

		for w := range strings.SplitSeq(list, ",") {
			if k := normalize(w); k != "" {
				words[k] = category
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, stats, errors.New(err).
			Component("keyword").
			Category(errors.CategoryFileParsing).
			Context("line", lineNo).
			Build()
	}

	stats.Keywords = len(words)
	return words, stats, nil
}

// LoadBlocklist replaces the external keyword list with the contents of path.
// On error the previous list stays in effect.
func (m *Matcher) LoadBlocklist(path string) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, errors.New(err).
			Component("keyword").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			m.log.Debug("failed to close blocklist", logger.Error(cerr))
		}
	}()

	words, stats, err := ParseBlocklist(f)
	if err != nil {
		m.log.Warn("blocklist load failed, keeping previous list",
			logger.String("path", path), logger.Error(err))
		return stats, err
	}

	m.setExternal(words)
	m.log.Info("blocklist loaded",
		logger.String("path", path),
		logger.Int("keywords", stats.Keywords),
		logger.Int("skipped", stats.Skipped))
	return stats, nil
}

// ClearBlocklist drops the external list.
func (m *Matcher) ClearBlocklist() {
	m.setExternal(map[string]detection.Category{})
}
