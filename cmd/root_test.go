package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/logging"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		conf.SetConfigFile("")
	})
	logging.Init()

	root := RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCommandSubcommands(t *testing.T) {
	root := RootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"process", "inspect", "config"})
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := writeConfig(t, "module:\n  path: /srv/from-file.wasm\nprocess:\n  blocksize: 512\n")

	out, err := executeRoot(t, "--config", path, "--module", "/srv/from-flag.wasm", "config")
	require.NoError(t, err)

	assert.Contains(t, out, "/srv/from-flag.wasm")
	assert.NotContains(t, out, "/srv/from-file.wasm")
	assert.Contains(t, out, "blocksize: 512")
}

func TestInvalidConfigRejected(t *testing.T) {
	path := writeConfig(t, "process:\n  inputregion: same\n  outputregion: same\n")

	_, err := executeRoot(t, "--config", path, "config")
	assert.ErrorContains(t, err, "must differ")
}

func TestProcessRequiresInput(t *testing.T) {
	path := writeConfig(t, "debug: false\n")

	_, err := executeRoot(t, "--config", path, "process")
	assert.Error(t, err)
}
