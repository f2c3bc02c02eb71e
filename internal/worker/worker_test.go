package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRegistry(t *testing.T) {
	assert.Equal(t, []string{"claude_code", "codex", "kiro_cli", "q_cli"}, KindNames())

	for _, name := range KindNames() {
		k, err := KindFor(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.Name())
		assert.True(t, ValidKind(name))
	}

	_, err := KindFor("gpt_shell")
	assert.Error(t, err)
	assert.False(t, ValidKind("gpt_shell"))
}

func TestStatusSettled(t *testing.T) {
	assert.True(t, StatusIdle.Settled())
	assert.True(t, StatusCompleted.Settled())
	assert.False(t, StatusProcessing.Settled())
	assert.False(t, StatusWaiting.Settled())
	assert.False(t, StatusError.Settled())
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"two words", "'two words'"},
		{"a'b", `'a'\''b'`},
		{"$HOME", "'$HOME'"},
		{"a;b|c", "'a;b|c'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShellQuote(tt.in), "quoting %q", tt.in)
	}

	assert.Equal(t, "echo 'hello world'", shellJoin([]string{"echo", "hello world"}))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tester.md"), []byte("You are the tester.\n"), 0o644))

	t.Run("existing profile", func(t *testing.T) {
		p, err := LoadProfile(dir, "tester")
		require.NoError(t, err)
		assert.Equal(t, "tester", p.Name)
		assert.Equal(t, "You are the tester.", p.SystemPrompt)
	})

	t.Run("missing profile is not an error", func(t *testing.T) {
		p, err := LoadProfile(dir, "ghost")
		require.NoError(t, err)
		assert.Equal(t, "ghost", p.Name)
		assert.Empty(t, p.SystemPrompt)
	})

	t.Run("empty dir is a bare profile", func(t *testing.T) {
		p, err := LoadProfile("", "tester")
		require.NoError(t, err)
		assert.Empty(t, p.SystemPrompt)
	})
}

func TestListProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "analyst.md"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "team"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team", "reviewer.md"), []byte("r"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err := ListProfiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst", "team/reviewer"}, names)

	missing, err := ListProfiles(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
