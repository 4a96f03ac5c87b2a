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
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

// ConnState is the connection lifecycle state of the monitor.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateStale        ConnState = "stale"
	StateReconnecting ConnState = "reconnecting"
)

// Action is the outcome of a periodic health evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionMarkStale
	ActionReconnect
)

// StateMachine tracks connection health from ingest outcomes and owns
// all timeout and backoff deadlines. It never touches the transport
// itself; callers act on the Action it returns.
type StateMachine struct {
	clock            clockwork.Clock
	lastReadingAt    time.Time
	connectedAt      time.Time
	nextReconnectAt  time.Time
	state            ConnState
	staleTimeout     time.Duration
	reconnectTimeout time.Duration
	backoff          time.Duration
	lost             bool
	mu               syncutil.RWMutex
}

func NewStateMachine(
	clock clockwork.Clock,
	staleTimeout, reconnectTimeout, backoff time.Duration,
) *StateMachine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateMachine{
		clock:            clock,
		state:            StateDisconnected,
		staleTimeout:     staleTimeout,
		reconnectTimeout: reconnectTimeout,
		backoff:          backoff,
	}
}

func (m *StateMachine) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastReadingAt returns when the last accepted reading arrived, or the
// zero time if none has since connecting.
func (m *StateMachine) LastReadingAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReadingAt
}

// Connecting marks the start of a connect attempt.
func (m *StateMachine) Connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnecting
}

// Connected marks a successful open and resets all health tracking.
func (m *StateMachine) Connected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnected
	m.connectedAt = m.clock.Now()
	m.lastReadingAt = time.Time{}
	m.lost = false
}

// ReadingReceived records an accepted reading. A stale link recovers to
// connected as soon as data flows again.
func (m *StateMachine) ReadingReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReadingAt = m.clock.Now()
	if m.state == StateStale {
		m.state = StateConnected
	}
}

// ConnectionLost is signalled by the ingest task after repeated
// transport errors. The next evaluation will request a reconnect.
func (m *StateMachine) ConnectionLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = true
}

// MarkStale flags a silent but nominally open link. Display-only; the
// session keeps running.
func (m *StateMachine) MarkStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnected {
		m.state = StateStale
	}
}

// Reconnecting marks the start of a reconnect attempt and arms the
// backoff gate so attempts cannot thrash.
func (m *StateMachine) Reconnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateReconnecting
	m.nextReconnectAt = m.clock.Now().Add(m.backoff)
}

// Disconnected resets the machine, either from an explicit user
// disconnect or a failed reconnect attempt.
func (m *StateMachine) Disconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	m.lastReadingAt = time.Time{}
	m.lost = false
}

// Evaluate inspects link health and returns the action the caller
// should take. Only meaningful while connected or stale.
func (m *StateMachine) Evaluate() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateStale {
		return ActionNone
	}

	now := m.clock.Now()

	if m.lost {
		if now.Before(m.nextReconnectAt) {
			return ActionNone
		}
		return ActionReconnect
	}

	// Before the first reading, silence is measured from the open.
	ref := m.lastReadingAt
	if ref.IsZero() {
		ref = m.connectedAt
	}
	silence := now.Sub(ref)

	if silence >= m.reconnectTimeout {
		if now.Before(m.nextReconnectAt) {
			return ActionNone
		}
		return ActionReconnect
	}

	if silence >= m.staleTimeout && m.state == StateConnected {
		return ActionMarkStale
	}

	return ActionNone
}
