package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/treewalk/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	path := writeConfig(t, "walk:\n  theta: 0.4\n")
	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 0.4, cfg.Walk.Theta)
	assert.Equal(t, 16, cfg.Tree.BucketSize, "defaults fill unset fields")
}

func TestRunCommand_WritesOutput(t *testing.T) {
	path := writeConfig(t, `world:
  particles: 300
  particle_mass: 0.0033
tree:
  bucket_size: 8
  chunks: 2
cache:
  fetch_latency_us: 10
`)
	dir := filepath.Join(t.TempDir(), "out")
	_, err := execute(t, "run", "--config", path, "--seed", "5", "--generations", "2",
		"--output-dir", dir, "--log-level", "warn")
	require.NoError(t, err)

	for _, name := range []string{"config.yaml", "walks.csv", "batches.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommand_BadLogLevel(t *testing.T) {
	_, err := execute(t, "run", "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid --log-level")
}
