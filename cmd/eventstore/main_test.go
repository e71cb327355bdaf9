package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/nexusevent/config"
	"github.com/INLOpen/nexusevent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command against a store in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := "store:\n  data_dir: " + filepath.Join(dir, "data") +
			"\n  backup_dir: " + filepath.Join(dir, "backup") +
			"\nlogging:\n  level: error\n  output: none\n"
		require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	}
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func jsonLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestCLI_InsertAndQuery(t *testing.T) {
	dir := t.TempDir()
	for _, pid := range []string{"100", "200", "300"} {
		out, err := runCLI(t, dir, "insert", "--domain", "KERNEL", "--name", "PANIC", "--level", "CRITICAL",
			"--pid", pid, "-p", "MSG=null deref", "-p", "PID_COPY="+pid)
		require.NoError(t, err)
		var res map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.NotZero(t, res["seq"])
	}

	out, err := runCLI(t, dir, "query", "--domain", "KERNEL", "-w", "pid_>=200")
	require.NoError(t, err)
	rows := jsonLines(t, out)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 3, rows[0]["seq_"])
	assert.EqualValues(t, 300, rows[0]["pid_"])
	assert.Equal(t, "null deref", rows[0]["MSG"])

	out, err = runCLI(t, dir, "--format", "text", "query", "--domain", "KERNEL", "--order", "asc", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "MSG=null deref")
	assert.Contains(t, out, "resume at seq 2")
}

func TestCLI_RepeatedFault(t *testing.T) {
	dir := t.TempDir()
	args := []string{"insert", "--domain", "KERNEL", "--name", "PANIC", "-p", "FINGERPRINT=abc"}

	out, err := runCLI(t, dir, args...)
	require.NoError(t, err)
	assert.Contains(t, out, `"repeat": false`)

	out, err = runCLI(t, dir, args...)
	require.NoError(t, err)
	assert.Contains(t, out, `"repeat": true`)
}

func TestCLI_BackupExportStatsClear(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "insert", "--domain", "POWER", "--name", "BATTERY", "--category", "STATISTIC", "-p", "LEVEL=42")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, `"ok"`)
	assert.FileExists(t, filepath.Join(dir, "backup", "eventstore.tar"))

	out, err = runCLI(t, dir, "restore")
	require.NoError(t, err)
	assert.Contains(t, out, `"skipped"`)

	parquetPath := filepath.Join(dir, "out.parquet")
	out, err = runCLI(t, dir, "export", "--domain", "POWER", "-o", parquetPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"rows": 1`)
	assert.FileExists(t, parquetPath)

	out, err = runCLI(t, dir, "stats")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.EqualValues(t, 1, st["statistic_files"])
	assert.EqualValues(t, 1, st["sequence"])

	_, err = runCLI(t, dir, "evict")
	require.NoError(t, err)

	_, err = runCLI(t, dir, "clear")
	assert.Error(t, err)
	out, err = runCLI(t, dir, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, `"deleted_files": 1`)
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "--format", "xml", "stats")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "insert", "--domain", "KERNEL", "--name", "PANIC", "-p", "novalue")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "query", "-w", "garbage")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "query", "--order", "sideways")
	assert.Error(t, err)
}

func TestParseParam(t *testing.T) {
	p, err := parseParam("CODE=11")
	require.NoError(t, err)
	assert.Equal(t, "CODE", p.Key)
	assert.True(t, p.Value.IsNumber())

	p, err = parseParam("MSG=a=b")
	require.NoError(t, err)
	assert.Equal(t, core.StringValue("a=b"), p.Value)

	_, err = parseParam("=x")
	assert.Error(t, err)
}

func TestCreateLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := createLogger(config.LoggingConfig{Level: "warn", Output: "stdout"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	logPath := filepath.Join(t.TempDir(), "app.log")
	_, closer, err = createLogger(config.LoggingConfig{Level: "info", Output: "file", File: logPath}, nil)
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.NoError(t, closer.Close())

	_, _, err = createLogger(config.LoggingConfig{Level: "loud", Output: "stdout"}, &buf)
	assert.Error(t, err)
	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "pigeon"}, &buf)
	assert.Error(t, err)
}
