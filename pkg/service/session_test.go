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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/service/testutils"
	"github.com/FlowMonProject/flowmon-core/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readingCollector struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	lost     bool
}

func (c *readingCollector) onReading(r telemetry.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

func (c *readingCollector) onLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = true
}

func (c *readingCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readings)
}

func (c *readingCollector) get(i int) telemetry.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readings[i]
}

func (c *readingCollector) wasLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

func TestSession_ParsesValidLines(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("1000,0.0,0.0,WAITING\n2000,1.5,0.0005,CONNECTED,3,3\n")

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return c.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	second := c.get(1)
	assert.InDelta(t, 1.5, second.FlowRate, 1e-9)
	assert.Equal(t, 3, second.Pulses)
	assert.Equal(t, "CONNECTED", second.Status)
}

func TestSession_SkipsRejectedLines(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("=== Sensor Boot ===\nabc,1.0,0.0,OK\n1000,-2.0,0.0,OK\n2000,1.0,0.1,OK\n")

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return c.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 1.0, c.get(0).FlowRate, 1e-9)
	assert.False(t, c.wasLost())
}

func TestSession_UndecodableBytesDoNotStopIngestion(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = append([]byte{0xff, 0xfe}, []byte("garbage\n3000,2.0,0.2,FLOW\n")...)

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return c.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 2.0, c.get(0).FlowRate, 1e-9)
}

func TestSession_ConsecutiveErrorsSignalLost(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadFunc = func(_ []byte) (int, error) {
		return 0, errors.New("device unplugged")
	}

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))

	require.Eventually(t, func() bool {
		return c.wasLost()
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return port.IsClosed()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, c.count())
}

func TestSession_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.ReadData = []byte("1000,1.0,0.1,OK\n")

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))
	require.NoError(t, s.Start(c.onReading, c.onLost))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return c.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second start must not double-deliver the stream.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.count())
}

func TestSession_StopClosesPort(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	c := &readingCollector{}
	require.NoError(t, s.Start(c.onReading, c.onLost))

	s.Stop()
	assert.True(t, port.IsClosed())
}

func TestSession_SetReadTimeoutFailure(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	port.TimeoutErr = errors.New("not supported")

	s := NewSession(port, "/dev/ttyUSB0", telemetry.NewParser(50.0))
	err := s.Start(func(telemetry.Reading) {}, func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read timeout")
}
