package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceIDOverride(t *testing.T) {
	assert.Equal(t, "node-a", InstanceID("node-a", t.TempDir()))
}

func TestInstanceIDReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, serverIDFile), []byte(" node-b\n"), 0644))
	assert.Equal(t, "node-b", InstanceID("", dir))
}

func TestInstanceIDIsStable(t *testing.T) {
	dir := t.TempDir()
	first := InstanceID("", dir)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, InstanceID("", dir))
}

func TestSanitizeHost(t *testing.T) {
	assert.Equal(t, "web-01", sanitizeHost("web-01"))
	assert.Equal(t, "webinternal", sanitizeHost("web.internal"))
}
