package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/wasmhost/wasmtest"
)

func writeWAV(t *testing.T, path string, frames int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	data := make([]int, frames)
	for i := range data {
		data[i] = i%200 - 100
	}
	enc := wav.NewEncoder(file, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: 16000, NumChannels: 1},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestRunRejectsOutputIntoInputDirectory(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "output", "one.wav")
	writeWAV(t, input, 500)
	before, err := os.ReadFile(input)
	require.NoError(t, err)

	settings := conf.Defaults()
	settings.Module.Path = wasmtest.WriteModule(t, wasmtest.CopyModule)
	settings.Process.OutputDir = filepath.Join(dir, "output")

	var out bytes.Buffer
	err = run(context.Background(), settings, []string{filepath.Join(dir, "output")}, &out)
	require.ErrorContains(t, err, "overwrite the input")

	after, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.flac", "nested/c.WAV", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o600))
	}
	single := filepath.Join(dir, "b.wav")

	inputs, err := expandInputs([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.flac"),
		filepath.Join(dir, "b.wav"),
		filepath.Join(dir, "nested", "c.WAV"),
	}, inputs)

	_, err = expandInputs([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestRunProcessesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "in", "one.wav"), 1000)
	writeWAV(t, filepath.Join(dir, "in", "two.wav"), 700)

	settings := conf.Defaults()
	settings.Module.Path = wasmtest.WriteModule(t, wasmtest.CopyModule)
	settings.Process.BlockSize = 256
	settings.Process.Workers = 2
	settings.Process.OutputDir = filepath.Join(dir, "out")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), settings, []string{filepath.Join(dir, "in")}, &out))

	assert.FileExists(t, filepath.Join(dir, "out", "one.wav"))
	assert.FileExists(t, filepath.Join(dir, "out", "two.wav"))
	assert.Contains(t, out.String(), "1000 frames")
	assert.Contains(t, out.String(), "700 frames")
	assert.Contains(t, out.String(), "(WAV, 1 ch")
}

func TestRunWithoutAudio(t *testing.T) {
	dir := t.TempDir()
	settings := conf.Defaults()

	err := run(context.Background(), settings, []string{dir}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no WAV or FLAC files")
}
