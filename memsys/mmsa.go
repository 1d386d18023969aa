// Package memsys provides memory management and slab allocation of reusable
// packet buffers
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/NVIDIA/rcm/cmn/debug"
)

// MMSA is a slab allocator for packet buffers. Buffers come from a fixed set
// of power-of-two size classes; freed buffers go back to their slab's ring.
// A buffer is owned either by a slab free ring or by exactly one holder at
// a time (allocator, queue, or mailbox slot) - hand-offs are explicit.

const (
	MinBufSize = 32
	MaxBufSize = 64 * 1024

	NumSlabs = 12 // 32B .. 64KiB

	dfltRingCap = 128
)

type (
	Slab struct {
		m        *MMSA
		ring     [][]byte
		bufSize  int
		hits     int64
		mu       sync.Mutex
	}
	MMSA struct {
		Name  string
		slabs [NumSlabs]*Slab
	}
	Stats struct {
		Hits [NumSlabs]int64
		Idle [NumSlabs]int // free buffers currently pooled
	}
)

//////////
// MMSA //
//////////

func (m *MMSA) Init() *MMSA {
	size := MinBufSize
	for i := range NumSlabs {
		m.slabs[i] = &Slab{m: m, bufSize: size, ring: make([][]byte, 0, dfltRingCap)}
		size <<= 1
	}
	debug.Assert(size == MaxBufSize<<1)
	return m
}

// Alloc returns a buffer of length size (capacity rounded up to the slab class).
func (m *MMSA) Alloc(size int) []byte {
	debug.Assert(size >= 0)
	if size > MaxBufSize {
		// oversized buffers bypass the rings
		return make([]byte, size)
	}
	slab := m.slabSize(size)
	return slab.alloc()[:size]
}

func (m *MMSA) Free(buf []byte) {
	c := cap(buf)
	if c > MaxBufSize || c < MinBufSize {
		return
	}
	slab := m.slabSize(c)
	if slab.bufSize == c {
		slab.free(buf[:c])
	}
}

func (m *MMSA) GetSlab(bufSize int) *Slab {
	slab := m.slabSize(bufSize)
	debug.Assert(slab.bufSize == bufSize, bufSize)
	return slab
}

func (m *MMSA) GetStats() (stats Stats) {
	for i, slab := range m.slabs {
		slab.mu.Lock()
		stats.Hits[i] = slab.hits
		stats.Idle[i] = len(slab.ring)
		slab.mu.Unlock()
	}
	return
}

func (m *MMSA) Terminate() {
	for _, slab := range m.slabs {
		slab.mu.Lock()
		slab.ring = nil
		slab.mu.Unlock()
	}
}

// smallest slab with bufSize >= size
func (m *MMSA) slabSize(size int) *Slab {
	for _, slab := range m.slabs {
		if slab.bufSize >= size {
			return slab
		}
	}
	return m.slabs[NumSlabs-1]
}

//////////
// Slab //
//////////

func (s *Slab) Size() int   { return s.bufSize }
func (s *Slab) Tag() string { return s.m.Name }

func (s *Slab) alloc() (buf []byte) {
	s.mu.Lock()
	if n := len(s.ring); n > 0 {
		buf = s.ring[n-1]
		s.ring[n-1] = nil
		s.ring = s.ring[:n-1]
		s.hits++
	}
	s.mu.Unlock()
	if buf == nil {
		buf = make([]byte, s.bufSize)
	}
	return
}

func (s *Slab) free(buf []byte) {
	debug.Assert(cap(buf) == s.bufSize)
	clear(buf)
	s.mu.Lock()
	if s.ring != nil && len(s.ring) < dfltRingCap {
		s.ring = append(s.ring, buf)
	}
	s.mu.Unlock()
}
