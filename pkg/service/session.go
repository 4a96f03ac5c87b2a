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
	"fmt"
	"strings"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/helpers/syncutil"
	"github.com/FlowMonProject/flowmon-core/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// SerialPort defines the interface for serial port operations (for mocking in tests).
type SerialPort interface {
	Read(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialPortFactory creates a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory is the default factory that opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

const (
	// readTimeout bounds each blocking port read so the loop can
	// observe the stop flag promptly.
	readTimeout = 100 * time.Millisecond

	// idleYield avoids busy-spinning a core when the device is quiet.
	idleYield = 10 * time.Millisecond

	// maxConsecutiveErrors is how many transport errors in a row the
	// task tolerates before declaring the connection lost.
	maxConsecutiveErrors = 5
)

// Session owns one open device handle and the goroutine that reads
// lines from it. It does not reconnect; after too many transport
// errors it closes the port, signals onLost and exits.
type Session struct {
	port    SerialPort
	parser  *telemetry.Parser
	stopCh  chan struct{}
	doneCh  chan struct{}
	device  string
	started bool
	mu      syncutil.Mutex
}

func NewSession(port SerialPort, device string, parser *telemetry.Parser) *Session {
	return &Session{
		port:   port,
		parser: parser,
		device: device,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (s *Session) Device() string {
	return s.device
}

// Start launches the ingest goroutine. Starting an already running
// session is a no-op.
func (s *Session) Start(onReading func(telemetry.Reading), onLost func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.port.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	s.started = true
	go s.readLoop(onReading, onLost)

	return nil
}

// Stop requests the ingest goroutine to exit and waits briefly for it.
// The port is closed on every exit path.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		if err := s.port.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing unstarted session port")
		}
		return
	}
	s.mu.Unlock()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	select {
	case <-s.doneCh:
	case <-time.After(2 * readTimeout):
		log.Warn().Str("device", s.device).Msg("ingest task did not stop in time")
	}
}

func (s *Session) readLoop(onReading func(telemetry.Reading), onLost func()) {
	defer close(s.doneCh)
	defer func() {
		if err := s.port.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing serial port")
		}
	}()

	log.Info().Str("device", s.device).Msg("ingest task started")

	var lineBuf []byte
	consecutiveErrors := 0
	buf := make([]byte, 1024)

	for {
		select {
		case <-s.stopCh:
			log.Info().Str("device", s.device).Msg("ingest task stopped")
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			consecutiveErrors++
			log.Error().
				Err(err).
				Int("consecutive", consecutiveErrors).
				Msg("failed to read from serial port")

			if consecutiveErrors >= maxConsecutiveErrors {
				log.Error().Str("device", s.device).Msg("too many consecutive serial errors, connection lost")
				onLost()
				return
			}
			continue
		}

		if n == 0 {
			// Read timed out with no data.
			time.Sleep(idleYield)
			continue
		}

		consecutiveErrors = 0

		for i := 0; i < n; i++ {
			if buf[i] != '\n' {
				lineBuf = append(lineBuf, buf[i])
				continue
			}

			// One bad byte must never terminate the loop, so decode
			// with replacement rather than failing.
			line := strings.ToValidUTF8(string(lineBuf), "")
			lineBuf = lineBuf[:0]

			reading, err := s.parser.Parse(line)
			if err != nil {
				if errors.Is(err, telemetry.ErrSkipLine) {
					log.Debug().Str("line", line).Err(err).Msg("skipping line")
				} else {
					log.Error().Str("line", line).Err(err).Msg("failed to parse line")
				}
				continue
			}

			if reading.HighFlow {
				log.Warn().
					Float64("flow_rate", reading.FlowRate).
					Int("pulses", reading.Pulses).
					Msg("flow rate above plausible maximum")
			}

			onReading(reading)
		}
	}
}
