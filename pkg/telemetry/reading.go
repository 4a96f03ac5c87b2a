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

// Package telemetry implements the sensor wire protocol and the rolling
// sample buffer shared between the ingest goroutine and the render layer.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultStatus is substituted when the device reports an empty status field.
const DefaultStatus = "NO DATA"

// ErrSkipLine marks a line that is not a data record: banners, headers,
// short legacy lines and malformed fields. Skipping is a normal filtering
// outcome, not a fault.
var ErrSkipLine = errors.New("line skipped")

// Banner and header lines the sensor firmware prints at boot and before
// the CSV stream starts.
var skipPrefixes = []string{"===", "Time", "CSV", "System", "Starting"}

// Reading is one parsed telemetry sample. Immutable once constructed;
// owned by the Buffer until evicted.
type Reading struct {
	Status       string
	TimestampSec float64
	FlowRate     float64
	TotalVolume  float64
	Pulses       int
	TotalPulses  int
	HighFlow     bool
}

// Parser converts raw wire lines into Readings.
//
// Wire format: `timestamp_ms,flow_rate,total_volume,status[,pulses[,total_pulses]]`
// e.g. `4721,1.2000,0.00020,CONNECTED,9,15`. Older firmware omits the
// pulse counter fields.
type Parser struct {
	maxFlowRate float64
}

func NewParser(maxFlowRate float64) *Parser {
	return &Parser{maxFlowRate: maxFlowRate}
}

// Parse returns a Reading for a valid data line, or an error wrapping
// ErrSkipLine for anything else. It never panics on malformed input.
func (p *Parser) Parse(line string) (Reading, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return Reading{}, fmt.Errorf("empty line: %w", ErrSkipLine)
	}

	if !strings.Contains(line, ",") {
		return Reading{}, fmt.Errorf("no field separator: %w", ErrSkipLine)
	}

	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(line, prefix) {
			return Reading{}, fmt.Errorf("banner line: %w", ErrSkipLine)
		}
	}

	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return Reading{}, fmt.Errorf("insufficient fields (%d): %w", len(parts), ErrSkipLine)
	}

	timestampMs, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("bad timestamp %q: %w", parts[0], ErrSkipLine)
	}

	flowRate, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("bad flow rate %q: %w", parts[1], ErrSkipLine)
	}

	totalVolume, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("bad total volume %q: %w", parts[2], ErrSkipLine)
	}

	if flowRate < 0 {
		return Reading{}, fmt.Errorf("negative flow rate %f: %w", flowRate, ErrSkipLine)
	}

	status := strings.TrimSpace(parts[3])
	if status == "" {
		status = DefaultStatus
	}

	var pulses, totalPulses int
	if len(parts) > 4 {
		pulses, err = strconv.Atoi(strings.TrimSpace(parts[4]))
		if err != nil {
			return Reading{}, fmt.Errorf("bad pulse count %q: %w", parts[4], ErrSkipLine)
		}
	}
	if len(parts) > 5 {
		totalPulses, err = strconv.Atoi(strings.TrimSpace(parts[5]))
		if err != nil {
			return Reading{}, fmt.Errorf("bad total pulse count %q: %w", parts[5], ErrSkipLine)
		}
	}

	return Reading{
		TimestampSec: timestampMs / 1000.0,
		FlowRate:     flowRate,
		TotalVolume:  totalVolume,
		Status:       status,
		Pulses:       pulses,
		TotalPulses:  totalPulses,
		// The device may legitimately report high transient flow, so
		// out-of-range rates are flagged rather than rejected.
		HighFlow: p.maxFlowRate > 0 && flowRate > p.maxFlowRate,
	}, nil
}
