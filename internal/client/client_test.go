package client

import (
	"bufio"
	"context"
	"net"
	"os"
	"testing"
	"time"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
	"codeberg.org/mutker/rfanctl/internal/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gpu0Path = "/sys/class/hwmon/hwmon0/temp1_input"
	gpu1Path = "/sys/class/hwmon/hwmon2/temp1_input"
)

func TestMain(m *testing.M) {
	logger.Init(false, true)
	os.Exit(m.Run())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{29, 29 * time.Second},
		{30, 30 * time.Second},
		{31, 30 * time.Second},
		{1000, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNewRequiresSensors(t *testing.T) {
	_, err := New("localhost", 7777, hwmon.NewWithFs(afero.NewMemMapFs()), nil,
		time.Second, logger.Default())
	require.Error(t, err)
	assert.Equal(t, errors.ErrNoSensors, errors.CodeOf(err))
}

func newReporter(t *testing.T, fs afero.Fs, interval time.Duration) *Reporter {
	t.Helper()

	reporter, err := New("localhost", 7777, hwmon.NewWithFs(fs), []hwmon.SensorSpec{
		{ID: "gpu0", Path: gpu0Path},
		{ID: "gpu1", Path: gpu1Path},
	}, interval, logger.Default())
	require.NoError(t, err)

	return reporter
}

func TestReporterSendsReports(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, gpu0Path, []byte("45000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, gpu1Path, []byte("61000\n"), 0o644))

	reporter := newReporter(t, fs, 10*time.Millisecond)

	serverSide, clientSide := net.Pipe()
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		return clientSide, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reporter.Run(ctx) }()

	reader := bufio.NewReader(serverSide)
	serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	report, err := protocol.Decode(line)
	require.NoError(t, err)
	require.NotNil(t, report.Temperatures["gpu0"])
	require.NotNil(t, report.Temperatures["gpu1"])
	assert.Equal(t, 45000, *report.Temperatures["gpu0"])
	assert.Equal(t, 61000, *report.Temperatures["gpu1"])
	assert.Greater(t, report.Timestamp, 0.0)

	cancel()
	serverSide.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not terminate")
	}
}

func TestReporterReportsNilForFailedSensor(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, gpu0Path, []byte("45000\n"), 0o644))
	// gpu1's sysfs file is missing

	reporter := newReporter(t, fs, 10*time.Millisecond)

	serverSide, clientSide := net.Pipe()
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		return clientSide, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	reader := bufio.NewReader(serverSide)
	serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	report, err := protocol.Decode(line)
	require.NoError(t, err)
	require.Contains(t, report.Temperatures, "gpu1")
	assert.Nil(t, report.Temperatures["gpu1"])
	require.NotNil(t, report.Temperatures["gpu0"])
	assert.Equal(t, 45000, *report.Temperatures["gpu0"])

	serverSide.Close()
}

func TestReporterSkipsCycleWithNoReadings(t *testing.T) {
	// Neither sensor file exists: nothing must go on the wire.
	reporter := newReporter(t, afero.NewMemMapFs(), 10*time.Millisecond)

	serverSide, clientSide := net.Pipe()
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		return clientSide, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	buf := make([]byte, 1)
	serverSide.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := serverSide.Read(buf)
	netErr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, netErr.Timeout())

	serverSide.Close()
}

func TestReporterReconnectsAfterBrokenConnection(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, gpu0Path, []byte("45000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, gpu1Path, []byte("61000\n"), 0o644))

	reporter := newReporter(t, fs, 10*time.Millisecond)

	conns := make(chan net.Conn, 2)
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		serverSide, clientSide := net.Pipe()
		conns <- serverSide
		return clientSide, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- reporter.Run(ctx) }()

	readLine := func(conn net.Conn) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := bufio.NewReader(conn).ReadBytes('\n')
		require.NoError(t, err)
	}

	first := <-conns
	readLine(first)
	first.Close()

	// The reporter pauses briefly, then dials again and keeps reporting.
	select {
	case second := <-conns:
		readLine(second)
		second.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not reconnect")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not terminate")
	}
}

func TestConnectRetriesUntilDialSucceeds(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, gpu0Path, []byte("45000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, gpu1Path, []byte("61000\n"), 0o644))

	reporter := newReporter(t, fs, time.Second)
	reporter.backoff = func(int) time.Duration { return time.Millisecond }

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	attempts := 0
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New().New(errors.ErrConnectFailed)
		}
		return clientSide, nil
	}

	conn, err := reporter.connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, reporter.TotalReconnects())
}

func TestConnectHonorsCancellation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, gpu0Path, []byte("45000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, gpu1Path, []byte("61000\n"), 0o644))

	reporter := newReporter(t, fs, time.Second)
	reporter.dial = func(_ context.Context, _ string) (net.Conn, error) {
		return nil, errors.New().New(errors.ErrConnectFailed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reporter.connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
