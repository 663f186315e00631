// Package keyword maps recognized on-screen text to a violation category.
package keyword

import (
	"cmp"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// ShortKeywordLen is the rune length below which a keyword must match as a
// whole word. Longer keywords match as plain substrings so OCR output with
// dropped spaces still matches.
const ShortKeywordLen = 4

// CustomCategory is the category assigned to user-defined words.
const CustomCategory = detection.CategoryExplicit

// Source says where a keyword came from.
type Source string

const (
	SourceBuiltin  Source = "builtin"
	SourceExternal Source = "blocklist"
	SourceCustom   Source = "custom"
)

// Match is a successful keyword lookup. Confidence is always 1.0.
type Match struct {
	Category detection.Category
	Keyword  string
	Source   Source
}

// Label renders the match for logs and violation records.
func (m Match) Label() string {
	return string(m.Source) + ": " + m.Keyword
}

type entry struct {
	keyword  string
	category detection.Category
	source   Source
	re       *regexp.Regexp // non-nil for short keywords
}

// snapshot is immutable once published.
type snapshot struct {
	entries []entry
}

// Matcher matches text against the merged keyword set. Match never takes a
// lock; writers rebuild and atomically publish a new snapshot.
type Matcher struct {
	snap atomic.Pointer[snapshot]

	// writer state, guarded by mu
	mu       sync.Mutex
	builtin  map[string]detection.Category
	external map[string]detection.Category
	custom   []string

	log logger.Logger
}

// New creates a matcher seeded with the built-in lists.
func New() *Matcher {
	m := &Matcher{
		builtin:  Builtin(),
		external: map[string]detection.Category{},
		log:      GetLogger(),
	}
	m.mu.Lock()
	m.rebuildLocked()
	m.mu.Unlock()
	return m
}

// Match returns the first keyword found in text. Iteration order is longest
// keyword first, then lexical, so results are deterministic.
func (m *Matcher) Match(text string) (Match, bool) {
	text = normalize(text)
	if text == "" {
		return Match{}, false
	}

	snap := m.snap.Load()
	for i := range snap.entries {
		e := &snap.entries[i]
		if containsKeyword(text, e) {
			return Match{Category: e.category, Keyword: e.keyword, Source: e.source}, true
		}
	}
	return Match{}, false
}

// Size returns the number of keywords in the current snapshot.
func (m *Matcher) Size() int {
	return len(m.snap.Load().entries)
}

// SetCustomWords replaces the live custom word set.
func (m *Matcher) SetCustomWords(words []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.custom = slices.Clone(words)
	m.rebuildLocked()
	m.log.Debug("custom words updated", logger.Int("count", len(words)))
}

// setExternal replaces the external list.
func (m *Matcher) setExternal(words map[string]detection.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.external = words
	m.rebuildLocked()
}

// rebuildLocked merges the sources and publishes a new snapshot. The external
// list overrides built-in categories; custom words only add keywords that no
// other source defines.
func (m *Matcher) rebuildLocked() {
	merged := make(map[string]entry, len(m.builtin)+len(m.external)+len(m.custom))
	for k, c := range m.builtin {
		merged[k] = entry{keyword: k, category: c, source: SourceBuiltin}
	}
	for k, c := range m.external {
		merged[k] = entry{keyword: k, category: c, source: SourceExternal}
	}
	for _, w := range m.custom {
		k := normalize(w)
		if k == "" {
			continue
		}
		if _, exists := merged[k]; !exists {
			merged[k] = entry{keyword: k, category: CustomCategory, source: SourceCustom}
		}
	}

	entries := slices.Collect(maps.Values(merged))
	slices.SortFunc(entries, func(a, b entry) int {
		la, lb := utf8.RuneCountInString(a.keyword), utf8.RuneCountInString(b.keyword)
		if la != lb {
			return cmp.Compare(lb, la)
		}
		return cmp.Compare(a.keyword, b.keyword)
	})
	for i := range entries {
		if needsBoundary(entries[i].keyword) {
			entries[i].re = regexp.MustCompile(wordStart + regexp.QuoteMeta(entries[i].keyword) + wordEnd)
		}
	}

	m.snap.Store(&snapshot{entries: entries})
}

// Word boundaries for short keywords. RE2's \b only knows ASCII word
// characters, so letters, marks and digits of every script are spelled out.
const (
	wordStart = `(?:^|[^\p{L}\p{M}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{M}\p{N}_])`
)

// needsBoundary reports whether k must match as a whole word. Short keywords
// do, except runs of a single repeated glyph such as "xxx", which never occur
// inside ordinary words.
func needsBoundary(k string) bool {
	if utf8.RuneCountInString(k) >= ShortKeywordLen {
		return false
	}
	first, _ := utf8.DecodeRuneInString(k)
	return strings.Trim(k, string(first)) != ""
}

// containsKeyword applies the length rule: "ale" matches "ale house" but not
// "generalist" or "female".
func containsKeyword(text string, e *entry) bool {
	if e.re != nil {
		return e.re.MatchString(text)
	}
	return strings.Contains(text, e.keyword)
}
