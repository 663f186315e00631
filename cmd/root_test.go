package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/buildinfo"
	"github.com/haramshield/haramshield-go/internal/config"
)

// cli runs the command tree against a temporary config and database.
type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	yaml := "webserver:\n  enabled: false\noutput:\n  sqlite:\n    path: " + filepath.Join(dir, "cli.db") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o600))
	return &cli{t: t, config: cfg}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	ctx := config.NewContext(&buildinfo.Context{Version: "test"})
	defer ctx.Close()

	root := RootCommand(ctx, viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionSkipsConfig(t *testing.T) {
	ctx := config.NewContext(&buildinfo.Context{Version: "v9.9.9"})
	root := RootCommand(ctx, viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "haramshield v9.9.9")
	assert.Nil(t, ctx.Store)
}

func TestWhitelistCommands(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("whitelist", "add", "com.example.quran", "--label", "Quran")
	require.NoError(t, err)
	assert.Contains(t, out, "whitelisted com.example.quran")

	out, err = c.run("whitelist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.quran")
	assert.Contains(t, out, "Quran")

	_, err = c.run("whitelist", "remove", "com.example.quran")
	require.NoError(t, err)
	out, err = c.run("whitelist", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "com.example.quran")
}

func TestWordsCommandsPersist(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("words", "add", "  Zebra ", "ZEBRA", "okapi")
	require.NoError(t, err)

	out, err := c.run("words", "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"okapi", "zebra"}, sortedLines(out))

	_, err = c.run("words", "remove", "Zebra")
	require.NoError(t, err)
	out, err = c.run("words", "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"okapi"}, sortedLines(out))
}

func TestAnalyzeLocksAndHistoryShowsIt(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("analyze", "--package", "com.example.chat", "--text", "online casino")
	require.NoError(t, err)
	assert.Contains(t, out, "app-locked")

	out, err = c.run("locks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "com.example.chat")
	assert.Contains(t, out, "gambling")

	out, err = c.run("history", "--package", "com.example.chat")
	require.NoError(t, err)
	assert.Contains(t, out, "casino")

	out, err = c.run("history", "--stats", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "gambling")

	_, err = c.run("locks", "unlock", "com.example.chat")
	require.NoError(t, err)
	out, err = c.run("locks", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "com.example.chat")
}

func TestAnalyzeRequiresInput(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("analyze")
	assert.Error(t, err)
}

func TestTamperReset(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("tamper", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "attempts: 0")

	out, err = c.run("tamper", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")
}

func sortedLines(s string) []string {
	var out []string
	for l := range strings.Lines(s) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
