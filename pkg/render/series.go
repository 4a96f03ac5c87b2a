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

// Package render turns buffer snapshots into chart-ready series.
package render

import "github.com/FlowMonProject/flowmon-core/pkg/telemetry"

// Point is one chart sample with time relative to the snapshot start.
type Point struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// Series holds the two chart traces built from one snapshot.
type Series struct {
	Flow   []Point `json:"flow"`
	Volume []Point `json:"volume"`
}

// BuildSeries normalizes timestamps relative to the first sample and
// produces (time, flow) and (time, volume) traces. An empty snapshot
// yields empty traces.
func BuildSeries(snapshot []telemetry.Reading) Series {
	s := Series{
		Flow:   make([]Point, 0, len(snapshot)),
		Volume: make([]Point, 0, len(snapshot)),
	}

	if len(snapshot) == 0 {
		return s
	}

	start := snapshot[0].TimestampSec
	for _, r := range snapshot {
		t := r.TimestampSec - start
		s.Flow = append(s.Flow, Point{T: t, V: r.FlowRate})
		s.Volume = append(s.Volume, Point{T: t, V: r.TotalVolume})
	}

	return s
}
