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

// Package service manages the sensor connection lifecycle: opening the
// device, running the ingest task, evaluating link health and driving
// reconnect attempts.
package service

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/api/models"
	"github.com/FlowMonProject/flowmon-core/pkg/config"
	"github.com/FlowMonProject/flowmon-core/pkg/export"
	"github.com/FlowMonProject/flowmon-core/pkg/helpers/syncutil"
	"github.com/FlowMonProject/flowmon-core/pkg/render"
	"github.com/FlowMonProject/flowmon-core/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	// DefaultSettleDelay absorbs the device reset that opening the port
	// triggers on most boards; input buffered during it is discarded.
	DefaultSettleDelay = 2 * time.Second

	defaultMonitorInterval = 500 * time.Millisecond

	notificationBufferSize = 64
)

// Stats are running counters over the life of a recording, independent
// of buffer eviction.
type Stats struct {
	SensorStatus string
	TotalPoints  int
	PeakFlow     float64
	LatestFlow   float64
	LatestVolume float64
}

// Service owns the buffer, the state machine and at most one active
// session. All exported methods are safe for concurrent use.
type Service struct {
	cfg           *config.Instance
	clock         clockwork.Clock
	machine       *StateMachine
	buf           *telemetry.Buffer
	parser        *telemetry.Parser
	portFactory   SerialPortFactory
	session       *Session
	notifications chan models.Notification
	stopCh        chan struct{}
	doneCh        chan struct{}
	device        string
	lastState     ConnState
	stats         Stats
	settleDelay   time.Duration
	monitorEvery  time.Duration
	recording     bool
	started       bool
	mu            syncutil.RWMutex
}

func NewService(cfg *config.Instance, clock clockwork.Clock, portFactory SerialPortFactory) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if portFactory == nil {
		portFactory = DefaultSerialPortFactory
	}

	_, maxFlow := cfg.FlowRateBounds()

	return &Service{
		cfg:           cfg,
		clock:         clock,
		machine:       NewStateMachine(clock, cfg.StaleTimeout(), cfg.ReconnectTimeout(), cfg.ReconnectBackoff()),
		buf:           telemetry.NewBuffer(cfg.BufferCapacity()),
		parser:        telemetry.NewParser(maxFlow),
		portFactory:   portFactory,
		notifications: make(chan models.Notification, notificationBufferSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		lastState:     StateDisconnected,
		stats:         Stats{SensorStatus: telemetry.DefaultStatus},
		settleDelay:   DefaultSettleDelay,
		monitorEvery:  defaultMonitorInterval,
		recording:     true,
	}
}

// Notifications is the stream of state and reading events consumed by
// the presentation layer.
func (s *Service) Notifications() <-chan models.Notification {
	return s.notifications
}

// Start launches the health monitor loop. Idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.monitorLoop()
}

// Stop shuts down the monitor loop and disconnects.
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
		<-s.doneCh
	}

	s.Disconnect()
}

// Connect opens the device and starts the ingest task. Connecting
// while a session is active is an error.
func (s *Service) Connect(device string) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return errors.New("already connected")
	}
	s.device = device
	s.mu.Unlock()

	s.machine.Connecting()
	s.notifyStateIfChanged()

	if err := s.openAndStart(device); err != nil {
		s.machine.Disconnected()
		s.notifyStateIfChanged()
		return err
	}

	s.machine.Connected()
	s.notifyStateIfChanged()
	log.Info().Str("device", device).Msg("connected to sensor")

	return nil
}

// Disconnect tears down the session at any state. Terminal until a new
// connect request.
func (s *Service) Disconnect() {
	s.teardownSession()
	s.machine.Disconnected()
	s.notifyStateIfChanged()
}

func (s *Service) openAndStart(device string) error {
	port, err := s.portFactory(device, &serial.Mode{BaudRate: s.cfg.BaudRate()})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", device, err)
	}

	// Give the board time to come out of reset, then drop whatever it
	// printed in the meantime.
	if s.settleDelay > 0 {
		s.clock.Sleep(s.settleDelay)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Warn().Err(err).Msg("failed to flush serial input buffer")
	}

	session := NewSession(port, device, s.parser)
	if err := session.Start(s.onReading, s.onConnectionLost); err != nil {
		session.Stop()
		return err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	return nil
}

func (s *Service) teardownSession() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		session.Stop()
	}
}

func (s *Service) onReading(r telemetry.Reading) {
	s.machine.ReadingReceived()

	s.mu.Lock()
	s.stats.SensorStatus = r.Status
	s.stats.LatestFlow = r.FlowRate
	s.stats.LatestVolume = r.TotalVolume
	recording := s.recording
	if recording {
		s.stats.TotalPoints++
		if r.FlowRate > s.stats.PeakFlow {
			s.stats.PeakFlow = r.FlowRate
		}
	}
	s.mu.Unlock()

	if recording {
		s.buf.Push(r)
	}

	s.notify(models.Notification{
		Method: models.NotificationReadingNew,
		Params: models.ReadingParams{
			Time:        r.TimestampSec,
			FlowRate:    r.FlowRate,
			TotalVolume: r.TotalVolume,
			Status:      r.Status,
			Pulses:      r.Pulses,
			TotalPulses: r.TotalPulses,
			HighFlow:    r.HighFlow,
		},
	})

	s.notifyStateIfChanged()
}

func (s *Service) onConnectionLost() {
	log.Warn().Msg("ingest task signalled connection lost")
	s.machine.ConnectionLost()
}

func (s *Service) monitorLoop() {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.monitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.Chan():
		}

		switch s.machine.Evaluate() {
		case ActionMarkStale:
			log.Warn().Msg("no data from sensor, marking link stale")
			s.machine.MarkStale()
		case ActionReconnect:
			s.reconnect()
		case ActionNone:
		}

		s.notifyStateIfChanged()
	}
}

func (s *Service) reconnect() {
	s.mu.RLock()
	device := s.device
	s.mu.RUnlock()

	log.Info().Str("device", device).Msg("attempting auto-reconnect")

	s.teardownSession()
	s.machine.Reconnecting()
	s.notifyStateIfChanged()

	if err := s.openAndStart(device); err != nil {
		log.Error().Err(err).Msg("auto-reconnect failed")
		s.machine.Disconnected()
		return
	}

	s.machine.Connected()
	log.Info().Str("device", device).Msg("reconnected to sensor")
}

// Reset clears the buffer and running statistics. The connection is
// left untouched.
func (s *Service) Reset() {
	s.buf.Clear()

	s.mu.Lock()
	s.stats = Stats{SensorStatus: telemetry.DefaultStatus}
	s.mu.Unlock()

	log.Info().Msg("data reset completed")
}

// SetRecording pauses or resumes pushing readings into the buffer.
// Link health tracking continues either way.
func (s *Service) SetRecording(enabled bool) {
	s.mu.Lock()
	s.recording = enabled
	s.mu.Unlock()

	if enabled {
		log.Info().Msg("recording resumed")
	} else {
		log.Info().Msg("recording paused")
	}
}

func (s *Service) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}

func (s *Service) State() ConnState {
	return s.machine.State()
}

// Snapshot returns a copy of the current buffer contents.
func (s *Service) Snapshot() []telemetry.Reading {
	return s.buf.Snapshot()
}

// Series builds the chart traces from the current buffer contents.
func (s *Service) Series() render.Series {
	return render.BuildSeries(s.buf.Snapshot())
}

// ExportCSV writes the current buffer contents as CSV. Returns
// export.ErrNoData when there is nothing to export.
func (s *Service) ExportCSV(w io.Writer) error {
	return export.WriteCSV(w, s.buf.Snapshot())
}

// Status summarizes connection and recording state for the API.
func (s *Service) Status() models.StatusResponse {
	s.mu.RLock()
	device := s.device
	stats := s.stats
	recording := s.recording
	s.mu.RUnlock()

	var lastReadingMs int64
	if last := s.machine.LastReadingAt(); !last.IsZero() {
		lastReadingMs = s.clock.Since(last).Milliseconds()
	}

	return models.StatusResponse{
		State:         string(s.machine.State()),
		Device:        device,
		SensorStatus:  stats.SensorStatus,
		Recording:     recording,
		Samples:       s.buf.Len(),
		TotalPoints:   stats.TotalPoints,
		LatestFlow:    stats.LatestFlow,
		LatestVolume:  stats.LatestVolume,
		PeakFlow:      stats.PeakFlow,
		LastReadingMs: lastReadingMs,
		Version:       config.AppVersion,
	}
}

func (s *Service) notifyStateIfChanged() {
	state := s.machine.State()

	s.mu.Lock()
	changed := state != s.lastState
	if changed {
		s.lastState = state
	}
	device := s.device
	s.mu.Unlock()

	if !changed {
		return
	}

	s.notify(models.Notification{
		Method: models.NotificationStateChanged,
		Params: models.StateParams{State: string(state), Device: device},
	})
}

func (s *Service) notify(n models.Notification) {
	select {
	case s.notifications <- n:
	default:
		log.Debug().Str("method", n.Method).Msg("notification channel full, dropping")
	}
}
