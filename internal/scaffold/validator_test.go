package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExistingClean(t *testing.T) {
	chdirTemp(t)
	assert.NoError(t, CheckExisting())
}

func TestCheckExistingProjectConfig(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("inkwell.yaml", []byte("model: gpt-4.1"), 0644))

	err := CheckExisting()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inkwell.yaml")
	assert.Contains(t, err.Error(), "--force")
}

func TestCheckExistingCustomDir(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join("custom", "agents"), 0755))

	err := CheckExisting()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom/")
}

func TestCheckExistingBoth(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("inkwell.yaml", []byte("x: 1"), 0644))
	require.NoError(t, os.MkdirAll("custom", 0755))

	err := CheckExisting()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inkwell.yaml")
	assert.Contains(t, err.Error(), "custom/")
}

func TestCheckExistingIgnoresCustomFile(t *testing.T) {
	chdirTemp(t)
	// A plain file named custom is not a project directory.
	require.NoError(t, os.WriteFile("custom", []byte("not a dir"), 0644))

	assert.NoError(t, CheckExisting())
}
