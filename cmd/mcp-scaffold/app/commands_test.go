package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
)

func TestKeygenPrintsValidKey(t *testing.T) {
	t.Parallel()

	cmd := newKeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.RunE(cmd, nil))

	key := strings.TrimSpace(out.String())
	require.NotEmpty(t, key)
	assert.NoError(t, crypto.VerifyKey(key))
}

func TestKeygenKeysAreUnique(t *testing.T) {
	t.Parallel()

	cmd := newKeygenCmd()

	var first, second bytes.Buffer
	cmd.SetOut(&first)
	require.NoError(t, cmd.RunE(cmd, nil))
	cmd.SetOut(&second)
	require.NoError(t, cmd.RunE(cmd, nil))

	assert.NotEqual(t, first.String(), second.String())
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "mcp-scaffold version:")
}
