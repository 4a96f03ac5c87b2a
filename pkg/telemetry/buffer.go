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

package telemetry

import "github.com/FlowMonProject/flowmon-core/pkg/helpers/syncutil"

// DefaultBufferCapacity bounds the rolling sample window when no
// capacity is configured.
const DefaultBufferCapacity = 500

// Buffer is a fixed-capacity ring of Readings with FIFO eviction. It is
// the only mutable state shared between the ingest goroutine and the
// render/export callers; the mutex is held only for the short
// copy/mutate operation, never across I/O.
type Buffer struct {
	items []Reading
	start int
	count int
	mu    syncutil.Mutex
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		items: make([]Reading, capacity),
	}
}

// Push appends a reading, evicting the oldest when at capacity.
func (b *Buffer) Push(r Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.items) {
		b.items[b.start] = r
		b.start = (b.start + 1) % len(b.items)
		return
	}

	b.items[(b.start+b.count)%len(b.items)] = r
	b.count++
}

// Snapshot returns an independent copy of the current contents in
// arrival order, safe to read while pushes continue.
func (b *Buffer) Snapshot() []Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Reading, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Clear empties the buffer; afterwards it behaves as newly constructed.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.count = 0
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) Cap() int {
	return len(b.items)
}
