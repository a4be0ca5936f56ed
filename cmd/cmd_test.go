package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testConfig = `
isup:
  node:
    opc: 1
    dpc: 2
  linksets:
    - name: loop
      type: memory
      apc: 2
  control:
    pid_file: /tmp/isupd-test.pid
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runValidate(writeConfig(t, testConfig), false, &out))
	assert.Contains(t, out.String(), "VALID: node 0.0.1 -> 0.0.2, 1 linkset(s)")
}

func TestRunValidatePrint(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runValidate(writeConfig(t, testConfig), true, &out))

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	require.Contains(t, doc, "isup")
	assert.Contains(t, doc["isup"], "timers")
	assert.Contains(t, doc["isup"], "linksets")
}

func TestRunValidateInvalid(t *testing.T) {
	var out bytes.Buffer
	err := runValidate(writeConfig(t, "isup:\n  node:\n    opc: 1\n"), false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID")
	assert.Zero(t, out.Len())
}

func TestRunReload(t *testing.T) {
	var got syscall.Signal
	var gotPath string
	send := func(path string, sig syscall.Signal) error {
		gotPath, got = path, sig
		return nil
	}

	var out bytes.Buffer
	require.NoError(t, runReload("/run/isupd.pid", send, &out))
	assert.Equal(t, syscall.SIGHUP, got)
	assert.Equal(t, "/run/isupd.pid", gotPath)
	assert.Contains(t, out.String(), "reload signal sent")

	err := runReload("/run/isupd.pid", func(string, syscall.Signal) error {
		return errors.New("no such process")
	}, &out)
	assert.ErrorContains(t, err, "failed to reload")
}

func TestResolvePIDFile(t *testing.T) {
	oldConfig, oldPID := configFile, pidFile
	t.Cleanup(func() { configFile, pidFile = oldConfig, oldPID })

	pidFile = "/tmp/explicit.pid"
	path, err := resolvePIDFile()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit.pid", path)

	pidFile = ""
	configFile = writeConfig(t, testConfig)
	path, err = resolvePIDFile()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/isupd-test.pid", path)

	configFile = filepath.Join(t.TempDir(), "missing.yml")
	_, err = resolvePIDFile()
	assert.Error(t, err)
}
