// FlowMon Core
// Copyright (c) 2026 The FlowMon Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of FlowMon Core.
//
// FlowMon Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// FlowMon Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with FlowMon Core.  If not, see <http://www.gnu.org/licenses/>.

package service

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/config"
	"github.com/FlowMonProject/flowmon-core/pkg/export"
	"github.com/FlowMonProject/flowmon-core/pkg/service/testutils"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func newTestConfig(t *testing.T) *config.Instance {
	t.Helper()
	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}

func newTestService(t *testing.T, factory SerialPortFactory) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	svc := NewService(newTestConfig(t), clock, factory)
	svc.settleDelay = 0
	return svc, clock
}

func singlePortFactory(port *testutils.MockSerialPort) SerialPortFactory {
	return func(_ string, _ *serial.Mode) (SerialPort, error) {
		return port, nil
	}
}

func TestService_ConnectFeedsBuffer(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("1000,0.0,0.0,WAITING\n2000,1.5,0.0005,CONNECTED,3,3\n")

	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	assert.Equal(t, StateConnected, svc.State())
	assert.True(t, port.WasFlushed())

	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := svc.Snapshot()
	assert.InDelta(t, 1.5, snap[1].FlowRate, 1e-9)
	assert.Equal(t, 3, snap[1].Pulses)

	status := svc.Status()
	assert.Equal(t, "CONNECTED", status.SensorStatus)
	assert.Equal(t, 2, status.TotalPoints)
	assert.InDelta(t, 1.5, status.PeakFlow, 1e-9)
}

func TestService_RejectedLinesLeaveBufferUnchanged(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("1000,1.0,0.1,OK\nabc,1.0,0.0,OK\n1000,-2.0,0.0,OK\n")

	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the rejected lines time to be (not) processed.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, svc.Snapshot(), 1)
}

func TestService_ConnectTwiceFails(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	err := svc.Connect("/dev/ttyUSB0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
}

func TestService_ConnectFailureSurfacesError(t *testing.T) {
	t.Parallel()

	factory := func(_ string, _ *serial.Mode) (SerialPort, error) {
		return nil, errors.New("no such device")
	}

	svc, _ := newTestService(t, factory)
	err := svc.Connect("/dev/ttyUSB9")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, svc.State())
}

func TestService_DisconnectClosesPort(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))

	svc.Disconnect()
	assert.Equal(t, StateDisconnected, svc.State())
	assert.True(t, port.IsClosed())
}

func TestService_PauseStopsRecordingButKeepsHealth(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	svc.SetRecording(false)
	assert.False(t, svc.Recording())

	port.Append([]byte("1000,1.0,0.1,OK\n"))

	require.Eventually(t, func() bool {
		return svc.Status().SensorStatus == "OK"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, svc.Snapshot())
	assert.Zero(t, svc.Status().TotalPoints)
}

func TestService_ResetClearsBufferAndStats(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("1000,2.0,0.1,OK\n")

	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.Reset()
	assert.Empty(t, svc.Snapshot())

	status := svc.Status()
	assert.Zero(t, status.TotalPoints)
	assert.Zero(t, status.PeakFlow)
}

func TestService_ExportEmptyBufferReportsNoData(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, singlePortFactory(testutils.NewMockSerialPort()))

	var buf bytes.Buffer
	err := svc.ExportCSV(&buf)
	require.ErrorIs(t, err, export.ErrNoData)
	assert.Zero(t, buf.Len())
}

func TestService_SilenceTriggersExactlyOneReconnect(t *testing.T) {
	t.Parallel()

	var opens atomic.Int32
	factory := func(_ string, _ *serial.Mode) (SerialPort, error) {
		opens.Add(1)
		return testutils.NewMockSerialPort(), nil
	}

	svc, clock := newTestService(t, factory)
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	assert.Equal(t, int32(1), opens.Load())

	svc.Start()
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// Past stale but under reconnect: display-only state change.
	clock.Advance(6 * time.Second)
	require.Eventually(t, func() bool {
		return svc.State() == StateStale
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), opens.Load())

	// Past the reconnect timeout: one reopen attempt, back to connected.
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return opens.Load() == 2 && svc.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), opens.Load())
}

func TestService_LostSignalTriggersReconnect(t *testing.T) {
	t.Parallel()

	var opens atomic.Int32
	factory := func(_ string, _ *serial.Mode) (SerialPort, error) {
		n := opens.Add(1)
		port := testutils.NewMockSerialPort()
		if n == 1 {
			// First port fails hard until the ingest task gives up.
			port.ReadFunc = func(_ []byte) (int, error) {
				return 0, errors.New("device unplugged")
			}
		}
		return port, nil
	}

	svc, clock := newTestService(t, factory)
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	svc.Start()
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// The ingest task needs a moment of real time to hit the error
	// threshold, then a tick to act on the lost signal.
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return opens.Load() == 2 && svc.State() == StateConnected
	}, 2*time.Second, 20*time.Millisecond)
}

func TestService_ReconnectFailureDisconnects(t *testing.T) {
	t.Parallel()

	var opens atomic.Int32
	factory := func(_ string, _ *serial.Mode) (SerialPort, error) {
		if opens.Add(1) > 1 {
			return nil, errors.New("no such device")
		}
		return testutils.NewMockSerialPort(), nil
	}

	svc, clock := newTestService(t, factory)
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	svc.Start()
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(16 * time.Second)
	require.Eventually(t, func() bool {
		return svc.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), opens.Load())
}

func TestService_NotificationsCarryStateChanges(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	svc, _ := newTestService(t, singlePortFactory(port))
	require.NoError(t, svc.Connect("/dev/ttyUSB0"))
	defer svc.Disconnect()

	var methods []string
	for len(methods) < 2 {
		select {
		case n := <-svc.Notifications():
			methods = append(methods, n.Method)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notifications")
		}
	}

	assert.Contains(t, methods, "state.changed")
}
