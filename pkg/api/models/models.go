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

package models

// Notification methods pushed to websocket clients.
const (
	NotificationReadingNew   = "reading.new"
	NotificationStateChanged = "state.changed"
)

type Notification struct {
	Params any    `json:"params,omitempty"`
	Method string `json:"method"`
}

// ReadingParams is the payload of a reading.new notification.
type ReadingParams struct {
	Status      string  `json:"status"`
	Time        float64 `json:"time"`
	FlowRate    float64 `json:"flowRate"`
	TotalVolume float64 `json:"totalVolume"`
	Pulses      int     `json:"pulses"`
	TotalPulses int     `json:"totalPulses"`
	HighFlow    bool    `json:"highFlow,omitempty"`
}

// StateParams is the payload of a state.changed notification.
type StateParams struct {
	State  string `json:"state"`
	Device string `json:"device,omitempty"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	State         string  `json:"state"`
	Device        string  `json:"device,omitempty"`
	SensorStatus  string  `json:"sensorStatus"`
	Recording     bool    `json:"recording"`
	Samples       int     `json:"samples"`
	TotalPoints   int     `json:"totalPoints"`
	LatestFlow    float64 `json:"latestFlow"`
	LatestVolume  float64 `json:"latestVolume"`
	PeakFlow      float64 `json:"peakFlow"`
	LastReadingMs int64   `json:"lastReadingMs"`
	Version       string  `json:"version"`
}

// ErrorResponse is the generic JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
