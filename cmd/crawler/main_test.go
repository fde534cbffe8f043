package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadContent(t *testing.T) {
	got, err := readContent("")
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(t.TempDir(), "page.txt")
	require.NoError(t, os.WriteFile(path, []byte("ChatGPT https://chat.openai.com"), 0o644))
	got, err = readContent(path)
	require.NoError(t, err)
	assert.Equal(t, "ChatGPT https://chat.openai.com", got)

	_, err = readContent(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
