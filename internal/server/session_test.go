package server

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/rfanctl/internal/actuator"
	"codeberg.org/mutker/rfanctl/internal/curve"
	"codeberg.org/mutker/rfanctl/internal/events"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pwmPath  = "/sys/class/hwmon/hwmon1/pwm1"
	modePath = "/sys/class/hwmon/hwmon1/pwm1_enable"
)

func TestMain(m *testing.M) {
	logger.Init(false, true)
	os.Exit(m.Run())
}

// countingFs counts write-opens per path.
type countingFs struct {
	afero.Fs
	mu     sync.Mutex
	writes map[string]int
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_WRONLY != 0 {
		c.mu.Lock()
		if c.writes == nil {
			c.writes = make(map[string]int)
		}
		c.writes[name]++
		c.mu.Unlock()
	}

	return c.Fs.OpenFile(name, flag, perm)
}

func (c *countingFs) writeCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writes[name]
}

type fixture struct {
	fs     *countingFs
	hfs    hwmon.FS
	fans   *actuator.Set
	sess   *session
	client net.Conn
	done   chan error
	cancel context.CancelFunc
}

func newFixture(t *testing.T, readTimeout time.Duration) *fixture {
	t.Helper()

	mem := afero.NewMemMapFs()
	for path, content := range map[string]string{pwmPath: "0", modePath: "2"} {
		require.NoError(t, afero.WriteFile(mem, path, []byte(content), 0o644))
	}
	fs := &countingFs{Fs: mem}
	hfs := hwmon.NewWithFs(fs)

	fans, err := actuator.Build(hfs, map[string]hwmon.FanConfig{
		"gpu0": {PwmPath: pwmPath, ModePath: modePath},
	}, 80, 0, logger.Default())
	require.NoError(t, err)

	fanCurve, err := curve.New([]int{35000, 55000, 80000, 90000}, []int{0, 100, 153, 255})
	require.NoError(t, err)

	recorder, err := events.NewService(events.Config{Enabled: false}, logger.Default())
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	sess := newSession(serverSide, fans, fanCurve, curve.Gate{Hysteresis: 6000}, recorder, logger.Default())
	sess.readTimeout = readTimeout

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.run(ctx) }()

	return &fixture{fs: fs, hfs: hfs, fans: fans, sess: sess, client: clientSide, done: done, cancel: cancel}
}

func (f *fixture) send(t *testing.T, line string) {
	t.Helper()

	f.client.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := f.client.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (f *fixture) pwm(t *testing.T) int {
	t.Helper()

	value, err := f.hfs.ReadInt(pwmPath)
	require.NoError(t, err)

	return value
}

func (f *fixture) waitPwm(t *testing.T, want int) {
	t.Helper()

	require.Eventually(t, func() bool { return f.pwm(t) == want },
		2*time.Second, 5*time.Millisecond)
}

func (f *fixture) shutdown(t *testing.T) {
	t.Helper()

	f.cancel()
	f.client.Close()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSessionFirstReportActuates(t *testing.T) {
	f := newFixture(t, time.Second)
	defer f.shutdown(t)

	mode, err := f.hfs.ReadInt(modePath)
	require.NoError(t, err)
	assert.Equal(t, int(actuator.ModeManual), mode, "accept puts fans into manual mode")

	f.send(t, `{"temperatures": {"gpu0": 45000}, "timestamp": 1.0}`)
	f.waitPwm(t, 50)
}

func TestSessionIdempotentReports(t *testing.T) {
	f := newFixture(t, time.Second)
	defer f.shutdown(t)

	f.send(t, `{"temperatures": {"gpu0": 60000}, "timestamp": 1.0}`)
	f.waitPwm(t, 110)
	baseline := f.fs.writeCount(pwmPath)

	// Identical and within-margin reports must not touch the hardware
	f.send(t, `{"temperatures": {"gpu0": 60000}, "timestamp": 2.0}`)
	f.send(t, `{"temperatures": {"gpu0": 59000}, "timestamp": 3.0}`)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, baseline, f.fs.writeCount(pwmPath))

	// A drop of at least the margin actuates again
	f.send(t, `{"temperatures": {"gpu0": 53000}, "timestamp": 4.0}`)
	f.waitPwm(t, 90)
}

func TestSessionRisingTemperatureActuatesImmediately(t *testing.T) {
	f := newFixture(t, time.Second)
	defer f.shutdown(t)

	f.send(t, `{"temperatures": {"gpu0": 60000}, "timestamp": 1.0}`)
	f.waitPwm(t, 110)

	f.send(t, `{"temperatures": {"gpu0": 61000}, "timestamp": 2.0}`)
	f.waitPwm(t, 112)
}

func TestSessionFailsafeOnTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	defer f.shutdown(t)

	// No data within the read timeout drives the failsafe speed
	f.waitPwm(t, 204)

	// The session stays active and processes later reports
	f.send(t, `{"temperatures": {"gpu0": 45000}, "timestamp": 1.0}`)
	f.waitPwm(t, 50)
}

func TestSessionDiscardsMalformedLines(t *testing.T) {
	f := newFixture(t, time.Second)
	defer f.shutdown(t)

	f.send(t, `this is not json`)
	f.send(t, `{"timestamp": 1.0}`)
	f.send(t, `{"temperatures": {"gpu0": 45000}, "timestamp": 2.0}`)
	f.waitPwm(t, 50)
}

func TestSessionNullReadingLeavesFanUnchanged(t *testing.T) {
	f := newFixture(t, time.Second)
	defer f.shutdown(t)

	f.send(t, `{"temperatures": {"gpu0": 60000}, "timestamp": 1.0}`)
	f.waitPwm(t, 110)

	f.send(t, `{"temperatures": {"gpu0": null}, "timestamp": 2.0}`)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 110, f.pwm(t))
}

func TestSessionClosingOnDisconnect(t *testing.T) {
	f := newFixture(t, time.Second)

	f.send(t, `{"temperatures": {"gpu0": 45000}, "timestamp": 1.0}`)
	f.waitPwm(t, 50)

	f.client.Close()
	select {
	case err := <-f.done:
		assert.NoError(t, err, "client disconnect is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}

	mode, err := f.hfs.ReadInt(modePath)
	require.NoError(t, err)
	assert.Equal(t, int(actuator.ModeAutomatic), mode)
	assert.Equal(t, 204, f.pwm(t), "failsafe reapplied on close")
}

func TestSessionCancellation(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	f.cancel()
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}

	mode, err := f.hfs.ReadInt(modePath)
	require.NoError(t, err)
	assert.Equal(t, int(actuator.ModeAutomatic), mode)
	f.client.Close()
}

func TestSessionFreshHistoryPerConnection(t *testing.T) {
	f := newFixture(t, time.Second)

	f.send(t, `{"temperatures": {"gpu0": 60000}, "timestamp": 1.0}`)
	f.waitPwm(t, 110)
	f.client.Close()
	<-f.done

	// A new session starts from empty history: the same temperature
	// actuates again even though the previous session recorded it.
	serverSide, clientSide := net.Pipe()
	recorder, err := events.NewService(events.Config{Enabled: false}, logger.Default())
	require.NoError(t, err)
	sess := newSession(serverSide, f.fans, f.sess.fanCurve, f.sess.gate, recorder, logger.Default())
	sess.readTimeout = time.Second

	done := make(chan error, 1)
	go func() { done <- sess.run(context.Background()) }()

	clientSide.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = clientSide.Write([]byte(`{"temperatures": {"gpu0": 60000}, "timestamp": 9.0}` + "\n"))
	require.NoError(t, err)
	f.waitPwm(t, 110)

	baseline := f.fs.writeCount(pwmPath)
	assert.Greater(t, baseline, 0)

	clientSide.Close()
	<-done
}
