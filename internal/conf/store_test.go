package conf

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStoreUpdateClampsAndPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(DefaultSettings(), path)
	before := store.Current()

	next, err := store.Update(func(s *Settings) {
		s.Detection.Thresholds.Explicit = 2
		s.Keywords.Custom = append(s.Keywords.Custom, " Vodka ")
	})
	require.NoError(t, err)

	assert.InDelta(t, ThresholdMax, next.Detection.Thresholds.Explicit, 1e-6)
	assert.Equal(t, []string{"vodka"}, next.Keywords.Custom)
	assert.InDelta(t, 0.70, before.Detection.Thresholds.Explicit, 1e-6, "earlier snapshots are immutable")
	assert.Same(t, next, store.Current())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, []string{"vodka"}, onDisk.Keywords.Custom)
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings(), "")
	before := store.Current()

	_, err := store.Update(func(s *Settings) { s.Main.Package = "" })
	require.Error(t, err)
	assert.Same(t, before, store.Current())
}

func TestStoreSubscribeCoalesces(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings(), "")
	ch, cancel := store.Subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		_, err := store.Update(func(s *Settings) { s.State.TamperAttempts = i })
		require.NoError(t, err)
	}

	latest := <-ch
	assert.Equal(t, 3, latest.State.TamperAttempts)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %v", extra.State.TamperAttempts)
	default:
	}
}

func TestStoreConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings(), "")
	var wg sync.WaitGroup

	for range 8 {
		wg.Go(func() {
			for range 100 {
				s := store.Current()
				// every snapshot is internally consistent
				assert.Equal(t, len(s.Keywords.Custom), len(NormalizeWords(s.Keywords.Custom)))
			}
		})
	}
	for i := range 4 {
		wg.Go(func() {
			for j := range 25 {
				_, err := store.Update(func(s *Settings) {
					s.Keywords.Custom = append(s.Keywords.Custom, string(rune('a'+i))+string(rune('a'+j)))
				})
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	assert.Len(t, store.Current().Keywords.Custom, 100)
}

func TestStoreUpdateMergesChangesFromOtherWriters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	agent := NewStore(DefaultSettings(), path)
	_, err := agent.Update(func(s *Settings) { s.State.TamperAttempts = 2 })
	require.NoError(t, err)

	cli := NewStore(agent.Current(), path)
	_, err = cli.Update(func(s *Settings) { s.Keywords.Custom = append(s.Keywords.Custom, "vodka") })
	require.NoError(t, err)
	_, err = cli.Update(func(s *Settings) { s.State.TamperAttempts = 0 })
	require.NoError(t, err)

	// the agent has not seen either CLI write yet
	next, err := agent.Update(func(s *Settings) { s.State.SnoozeUntil = 1234 })
	require.NoError(t, err)
	assert.Equal(t, []string{"vodka"}, next.Keywords.Custom)
	assert.Zero(t, next.State.TamperAttempts, "tamper reset survives")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, []string{"vodka"}, onDisk.Keywords.Custom)
	assert.Zero(t, onDisk.State.TamperAttempts)
	assert.Equal(t, int64(1234), onDisk.State.SnoozeUntil)
}

func TestStoreReloadPublishesDiskChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	agent := NewStore(DefaultSettings(), path)
	_, err := agent.Update(func(s *Settings) { s.State.TamperAttempts = 1 })
	require.NoError(t, err)

	ch, cancel := agent.Subscribe()
	defer cancel()

	cli := NewStore(agent.Current(), path)
	_, err = cli.Update(func(s *Settings) { s.Keywords.Custom = []string{"wine"} })
	require.NoError(t, err)

	changed, err := agent.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"wine"}, agent.Current().Keywords.Custom)
	assert.Equal(t, []string{"wine"}, (<-ch).Keywords.Custom)

	changed, err = agent.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "unchanged file is not republished")
}

func TestStoreReloadWithoutFileKeepsSnapshot(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings(), filepath.Join(t.TempDir(), "missing.yaml"))
	before := store.Current()

	changed, err := store.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, before, store.Current())
}

func TestStoreWatchPicksUpOtherWriters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	agent := NewStore(DefaultSettings(), path)
	_, err := agent.Update(func(s *Settings) { s.State.TamperAttempts = 3 })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- agent.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	cli := NewStore(agent.Current(), path)
	// retried until the watcher has registered the directory
	assert.Eventually(t, func() bool {
		if _, err := cli.Update(func(s *Settings) {
			s.Keywords.Custom = []string{"arak"}
			s.State.TamperAttempts = 0
		}); err != nil {
			return false
		}
		cur := agent.Current()
		return slices.Equal(cur.Keywords.Custom, []string{"arak"}) && cur.State.TamperAttempts == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStoreWatchWithoutPathReturns(t *testing.T) {
	t.Parallel()

	store := NewStore(DefaultSettings(), "")
	require.NoError(t, store.Watch(t.Context(), 0))
}
