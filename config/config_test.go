package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kaijutsu/kernel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, c.LeaseTTL())
	assert.Equal(t, kernel.ConsentCollaborative, c.ConsentMode())
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	contents := "leaseTtlSeconds: 120\ndefaultConsent: autonomous\nequippedTools:\n  - read_file\n  - write_file\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, c.LeaseTTL())
	assert.Equal(t, kernel.ConsentAutonomous, c.ConsentMode())
	assert.Equal(t, []string{"read_file", "write_file"}, c.EquippedTools)
}

func TestRuntimeDirAndConfigPathAreNonEmpty(t *testing.T) {
	dir, err := RuntimeDir()
	require.NoError(t, err)
	assert.NotEmpty(t, dir)
	assert.NotEmpty(t, ConfigPath())
}
