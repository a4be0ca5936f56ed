package daemon

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/linkset"
)

func writeDaemonConfig(t *testing.T, dir, level string) string {
	t.Helper()
	content := fmt.Sprintf(`
isup:
  node:
    opc: 1
    dpc: 2
  linksets:
    - name: loop
      type: memory
      apc: 2
  metrics:
    enabled: true
    listen: 127.0.0.1:0
  log:
    level: %s
    format: text
    outputs:
      file:
        enabled: true
        path: %s
`, level, filepath.Join(dir, "isupd.log"))
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func iam(cic uint16) *isup.Message {
	return isup.NewMessage(isup.IAM, cic).
		Set(isup.NatureOfConnectionIndicators, []byte{0x00}).
		Set(isup.ForwardCallIndicators, []byte{0x20, 0x01}).
		Set(isup.CallingPartysCategory, []byte{0x0A}).
		Set(isup.TransmissionMediumRequirement, []byte{0x00}).
		Set(isup.CalledPartyNumber, []byte{0x81, 0x10, 0x21, 0x43})
}

func TestDaemonStartStop(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "isupd.pid")

	d, err := New(writeDaemonConfig(t, dir, "debug"), pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	pid, err := ReadPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, Running(pidFile))

	resp, err := http.Get("http://" + d.metricsServer.Addr() + "/healthz")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var inbound atomic.Int32
	require.NoError(t, d.Engine().AddListener(&eventbus.Funcs{
		Name: "test",
		Message: func(e *eventbus.MessageEvent) error {
			inbound.Add(1)
			return nil
		},
	}))

	ls, ok := d.Engine().Linkset("loop")
	require.True(t, ok)
	mem, ok := ls.(*linkset.Memory)
	require.True(t, ok)
	assert.Equal(t, linkset.StateActive, mem.State())

	require.NoError(t, d.Engine().Send(iam(7)))
	require.Len(t, mem.Written(), 1)
	assert.Equal(t, 1, d.Engine().Timers().Len())

	acm := isup.NewMessage(isup.ACM, 7).Set(isup.BackwardCallIndicators, []byte{0x14, 0x04})
	require.NoError(t, mem.InjectMessage(acm))
	assert.Eventually(t, func() bool {
		return inbound.Load() == 1 && d.Engine().Timers().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	d.Stop()
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, linkset.StateDestroyed, mem.State())

	data, err := os.ReadFile(filepath.Join(dir, "isupd.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "daemon started successfully")
}

func TestDaemonReloadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeDaemonConfig(t, dir, "info")

	d, err := New(path, filepath.Join(dir, "isupd.pid"))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()
	assert.Equal(t, "info", d.config.Log.Level)

	writeDaemonConfig(t, dir, "debug")
	require.NoError(t, d.Reload())
	assert.Equal(t, "debug", d.config.Log.Level)

	require.NoError(t, os.WriteFile(path, []byte("isup:\n  node:\n    opc: 0\n"), 0644))
	assert.Error(t, d.Reload())
	assert.Equal(t, "debug", d.config.Log.Level)
}

func TestDaemonTriggerShutdown(t *testing.T) {
	dir := t.TempDir()
	d, err := New(writeDaemonConfig(t, dir, "info"), filepath.Join(dir, "isupd.pid"))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	d.TriggerShutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after TriggerShutdown")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("isup:\n  node:\n    opc: 1\n"), 0644))

	_, err := New(path, "")
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.yml"), "")
	assert.Error(t, err)
}

func TestPIDFileHelpers(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "none.pid"))
	assert.Error(t, err)
	assert.False(t, Running(filepath.Join(dir, "none.pid")))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("abc\n"), 0644))
	_, err = ReadPID(bad)
	assert.Error(t, err)

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
	assert.True(t, Running(self))
	assert.NoError(t, Signal(self, syscall.Signal(0)))

	err = Signal(filepath.Join(dir, "none.pid"), syscall.SIGTERM)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "daemon not running"))
}
