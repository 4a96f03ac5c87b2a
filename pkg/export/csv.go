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

// Package export serializes buffer snapshots to CSV.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/FlowMonProject/flowmon-core/pkg/telemetry"
	"github.com/gocarina/gocsv"
)

// ErrNoData is returned when a snapshot has no samples. Callers report
// "nothing to export" instead of writing an empty file.
var ErrNoData = errors.New("no samples to export")

type csvRow struct {
	Time        string `csv:"Time(s)"`
	FlowRate    string `csv:"FlowRate(L/min)"`
	TotalVolume string `csv:"TotalVolume(L)"`
	Status      string `csv:"Status"`
}

// WriteCSV writes one row per reading with timestamps normalized
// relative to the first sample. No file content is produced for an
// empty snapshot.
func WriteCSV(w io.Writer, snapshot []telemetry.Reading) error {
	if len(snapshot) == 0 {
		return ErrNoData
	}

	start := snapshot[0].TimestampSec
	rows := make([]csvRow, 0, len(snapshot))
	for _, r := range snapshot {
		rows = append(rows, csvRow{
			Time:        strconv.FormatFloat(r.TimestampSec-start, 'f', 3, 64),
			FlowRate:    strconv.FormatFloat(r.FlowRate, 'f', 3, 64),
			TotalVolume: strconv.FormatFloat(r.TotalVolume, 'f', 4, 64),
			Status:      r.Status,
		})
	}

	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to marshal CSV: %w", err)
	}
	return nil
}
