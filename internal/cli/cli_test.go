package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := BuildCLI()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "calcpipe", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	for _, want := range []string{"run", "calc", "simulate", "status"} {
		assert.True(t, names[want], "should have %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, defaultConfigPath, configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("watch"))
}

func TestBuildCalcCommand(t *testing.T) {
	cmd := buildCalcCommand()
	assert.Equal(t, "calc", cmd.Use)

	fileFlag := cmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag)
	assert.Equal(t, "f", fileFlag.Shorthand)
	assert.NotNil(t, cmd.Flags().Lookup("kind"))
	assert.NotNil(t, cmd.Flags().Lookup("input"))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.MaxWorkers)

	path := writeFile(t, "calcpipe.yaml", "pool:\n  max_workers: 6\n")
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Pool.MaxWorkers)

	_, err = loadConfig("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	bad := writeFile(t, "bad.yaml", "pool: [broken\n")
	_, err = loadConfig(bad)
	assert.Error(t, err)
}

func TestReadInput(t *testing.T) {
	p, err := readInput(`{"principal": 1000, "years": 5}`, "")
	require.NoError(t, err)
	assert.Equal(t, types.Payload{"principal": 1000.0, "years": 5.0}, p)

	path := writeFile(t, "input.json", `{"target": 50000}`)
	p, err = readInput("", path)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p["target"])

	_, err = readInput("", "")
	assert.Error(t, err)

	_, err = readInput("{not json", "")
	assert.Error(t, err)
}

// ============================================================================
// Commands end to end (built-in defaults, no config file)
// ============================================================================

func TestCalcCommand(t *testing.T) {
	out, err := execute(t, "-c", "", "calc",
		"--kind", "compound-interest",
		"--input", `{"principal":10000,"annual_rate":5,"years":10,"compound_frequency":"yearly"}`)
	require.NoError(t, err)

	var result struct {
		Kind  string        `json:"kind"`
		Value types.Payload `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "compound-interest", result.Kind)
	assert.Equal(t, 16288.95, result.Value["final_amount"])
}

func TestCalcCommandValidationError(t *testing.T) {
	_, err := execute(t, "-c", "", "calc", "--kind", "compound-interest", "--input", `{"principal":-1}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "-c", "", "simulate", "--keystrokes", "4", "--interval", "10ms")
	require.NoError(t, err)

	assert.Contains(t, out, "Keystrokes:     4")
	assert.Contains(t, out, "Calculations:   1")
	assert.Contains(t, out, "Cancellations:  3")
	assert.Contains(t, out, "Final principal: 1234")
	assert.True(t, strings.Contains(out, `"final_amount"`))
}

func TestSimulateRejectsZeroKeystrokes(t *testing.T) {
	_, err := execute(t, "-c", "", "simulate", "--keystrokes", "0")
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	path := writeFile(t, "calcpipe.yaml", `
pool:
  max_workers: 3
snapshot:
  path: /var/lib/calcpipe/hot.json
metrics:
  enabled: false
`)
	out, err := execute(t, "-c", path, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "Workers:          3 x 1")
	assert.Contains(t, out, "/var/lib/calcpipe/hot.json")
	assert.Contains(t, out, "Diagnostics disabled")
}
