package keyword

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/detection"
)

func TestMatchWordBoundaries(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetCustomWords([]string{"ale", "خمر", "ñu"})

	tests := []struct {
		name    string
		text    string
		want    bool
		keyword string
	}{
		{"short keyword as a word", "ale house", true, "ale"},
		{"short keyword inside a word", "generalist", false, ""},
		{"short keyword as a suffix", "female", false, ""},
		{"repeated glyph keyword", "xxxrated", true, "xxx"},
		{"long keyword without spaces", "playpokernow", true, "poker"},
		{"short builtin not inside longer word", "better between", false, ""},
		{"short builtin standalone", "place your bet", true, "bet"},
		{"case and width folded", "ＣＡＳＩＮＯ", true, "casino"},
		{"empty", "   ", false, ""},
		{"short arabic keyword alone", "خمر", true, "خمر"},
		{"short arabic keyword in a sentence", "اشرب خمر الان", true, "خمر"},
		{"short arabic keyword inside a word", "الخمرة", false, ""},
		{"short accented keyword as a word", "un ñu grande", true, "ñu"},
		{"short accented keyword inside a word", "ñuño", false, ""},
		{"short keyword next to punctuation", "ale!", true, "ale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.text)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.keyword, got.Keyword)
			}
		})
	}
}

func TestMatchCategories(t *testing.T) {
	t.Parallel()

	m := New()
	for text, want := range map[string]detection.Category{
		"Online Casino bonus":      detection.CategoryGambling,
		"cold beer on tap":         detection.CategoryIntoxicant,
		"subscribe to my onlyfans": detection.CategoryExplicit,
		"quran burning video":      detection.CategoryBlasphemy,
	} {
		got, ok := m.Match(text)
		require.True(t, ok, text)
		assert.Equal(t, want, got.Category, text)
		assert.Equal(t, SourceBuiltin, got.Source)
	}
}

func TestMatchPrefersLongestKeyword(t *testing.T) {
	t.Parallel()

	m := New()
	got, ok := m.Match("free cigarettes")
	require.True(t, ok)
	assert.Equal(t, "cigarette", got.Keyword)
	assert.Equal(t, "builtin: cigarette", got.Label())
}

func TestSourcePrecedence(t *testing.T) {
	t.Parallel()

	m := New()
	words, stats, err := ParseBlocklist(strings.NewReader("gambling: wine, haram\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Keywords)
	m.setExternal(words)
	m.SetCustomWords([]string{"wine", "Haram", "halftime"})

	got, ok := m.Match("wine list")
	require.True(t, ok)
	assert.Equal(t, detection.CategoryGambling, got.Category, "blocklist overrides builtin")
	assert.Equal(t, SourceExternal, got.Source)

	got, ok = m.Match("haram")
	require.True(t, ok)
	assert.Equal(t, SourceExternal, got.Source, "custom words never shadow other sources")

	got, ok = m.Match("halftime show")
	require.True(t, ok)
	assert.Equal(t, CustomCategory, got.Category)
	assert.Equal(t, SourceCustom, got.Source)
}

func TestSetCustomWordsReplaces(t *testing.T) {
	t.Parallel()

	m := New()
	base := m.Size()
	m.SetCustomWords([]string{"zebra", " ", "Zebra"})
	assert.Equal(t, base+1, m.Size())

	_, ok := m.Match("zebra crossing")
	assert.True(t, ok)

	m.SetCustomWords(nil)
	_, ok = m.Match("zebra crossing")
	assert.False(t, ok)
	assert.Equal(t, base, m.Size())
}

func TestParseBlocklistPartialLoad(t *testing.T) {
	t.Parallel()

	input := `# supplementary list
GAMBLING: sweepstakes, Scratchcard

not a record
weather: sunny
tampering: uninstall
ALCOHOL: mead,
`
	words, stats, err := ParseBlocklist(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 3, stats.Keywords)
	assert.Equal(t, map[string]detection.Category{
		"sweepstakes": detection.CategoryGambling,
		"scratchcard": detection.CategoryGambling,
		"mead":        detection.CategoryIntoxicant,
	}, words)
}

func TestLoadBlocklistKeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.txt")
	require.NoError(t, os.WriteFile(path, []byte("gambling: sweepstakes\n"), 0o600))

	m := New()
	stats, err := m.LoadBlocklist(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Keywords)

	_, err = m.LoadBlocklist(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)

	got, ok := m.Match("weekly sweepstakes")
	require.True(t, ok)
	assert.Equal(t, SourceExternal, got.Source)

	m.ClearBlocklist()
	_, ok = m.Match("weekly sweepstakes")
	assert.False(t, ok)
}

func TestMatchDuringConcurrentWrites(t *testing.T) {
	t.Parallel()

	m := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				m.SetCustomWords([]string{"zebra"})
			} else {
				m.SetCustomWords(nil)
			}
		}
	}()

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				got, ok := m.Match("casino")
				assert.True(t, ok)
				assert.Equal(t, detection.CategoryGambling, got.Category)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestWatchReloadsBlocklist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.txt")
	require.NoError(t, os.WriteFile(path, []byte("# empty\n"), 0o600))

	m := New()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, path, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		// rewrite on every poll; the watch may not be registered yet
		_ = os.WriteFile(path, []byte("gambling: sweepstakes\n"), 0o600)
		_, ok := m.Match("sweepstakes")
		return ok
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
