package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_PrintsRedacted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ktail.yml")
	doc := `
bootstrapServers: [broker:9092]
groupId: ktail
topics: [precog]
decoder: RawKey
tunnel:
  host: bastion
  user: ops
  auth:
    password: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var out bytes.Buffer
	cmdRoot.SetOut(&out)
	cmdRoot.SetArgs([]string{"config", "--config", path})
	require.NoError(t, cmdRoot.Execute())

	assert.Contains(t, out.String(), "bootstrapServers:")
	assert.Contains(t, out.String(), "decoder: RawKey")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ktail.yml")
	require.NoError(t, os.WriteFile(path, []byte("topics: [a]\n"), 0o600))

	cmdRoot.SetOut(&bytes.Buffer{})
	cmdRoot.SetArgs([]string{"config", "--config", path})
	err := cmdRoot.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrapServers cannot be empty")
}
