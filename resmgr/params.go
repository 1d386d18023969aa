// Package resmgr implements the client side of the off-device resource
// broker: typed request/acknowledgement round-trips with timeouts and
// errno translation.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package resmgr

import (
	"encoding/binary"

	"github.com/NVIDIA/rcm/rcm"
)

const maxSDMAChannels = 16

const (
	gptLen       = 8
	auxClkLen    = 16
	regulatorLen = 12
	gpioLen      = 4
	sdmaLen      = 4 + 4*maxSDMAChannels
	constraintLen = 16
)

type (
	Gpt struct {
		ID     uint32
		SrcClk uint32
	}
	AuxClk struct {
		ClkID            uint32
		ClkRate          uint32
		ParentSrcClk     uint32
		ParentSrcClkRate uint32
	}
	Regulator struct {
		ID    uint32
		MinUV uint32
		MaxUV uint32
	}
	Gpio struct {
		ID uint32
	}
	Sdma struct {
		NumCh    uint32
		Channels [maxSDMAChannels]int32
	}
	ConstraintData struct {
		Mask      int32
		Frequency int32
		Bandwidth int32
		Latency   int32
	}
)

func (*Gpt) PackedLen() int { return gptLen }

func (g *Gpt) Pack(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], g.ID)
	binary.LittleEndian.PutUint32(buf[4:], g.SrcClk)
}

func (g *Gpt) Unpack(buf []byte) error {
	if len(buf) < gptLen {
		return rcm.NewErrTruncated(len(buf), gptLen)
	}
	g.ID = binary.LittleEndian.Uint32(buf[0:])
	g.SrcClk = binary.LittleEndian.Uint32(buf[4:])
	return nil
}

func (*AuxClk) PackedLen() int { return auxClkLen }

func (a *AuxClk) Pack(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], a.ClkID)
	binary.LittleEndian.PutUint32(buf[4:], a.ClkRate)
	binary.LittleEndian.PutUint32(buf[8:], a.ParentSrcClk)
	binary.LittleEndian.PutUint32(buf[12:], a.ParentSrcClkRate)
}

func (a *AuxClk) Unpack(buf []byte) error {
	if len(buf) < auxClkLen {
		return rcm.NewErrTruncated(len(buf), auxClkLen)
	}
	a.ClkID = binary.LittleEndian.Uint32(buf[0:])
	a.ClkRate = binary.LittleEndian.Uint32(buf[4:])
	a.ParentSrcClk = binary.LittleEndian.Uint32(buf[8:])
	a.ParentSrcClkRate = binary.LittleEndian.Uint32(buf[12:])
	return nil
}

func (*Regulator) PackedLen() int { return regulatorLen }

func (r *Regulator) Pack(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], r.ID)
	binary.LittleEndian.PutUint32(buf[4:], r.MinUV)
	binary.LittleEndian.PutUint32(buf[8:], r.MaxUV)
}

func (r *Regulator) Unpack(buf []byte) error {
	if len(buf) < regulatorLen {
		return rcm.NewErrTruncated(len(buf), regulatorLen)
	}
	r.ID = binary.LittleEndian.Uint32(buf[0:])
	r.MinUV = binary.LittleEndian.Uint32(buf[4:])
	r.MaxUV = binary.LittleEndian.Uint32(buf[8:])
	return nil
}

func (*Gpio) PackedLen() int { return gpioLen }

func (g *Gpio) Pack(buf []byte) { binary.LittleEndian.PutUint32(buf, g.ID) }

func (g *Gpio) Unpack(buf []byte) error {
	if len(buf) < gpioLen {
		return rcm.NewErrTruncated(len(buf), gpioLen)
	}
	g.ID = binary.LittleEndian.Uint32(buf)
	return nil
}

func (*Sdma) PackedLen() int { return sdmaLen }

func (s *Sdma) Pack(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], s.NumCh)
	for i, ch := range s.Channels {
		binary.LittleEndian.PutUint32(buf[4+4*i:], uint32(ch))
	}
}

func (s *Sdma) Unpack(buf []byte) error {
	if len(buf) < sdmaLen {
		return rcm.NewErrTruncated(len(buf), sdmaLen)
	}
	s.NumCh = binary.LittleEndian.Uint32(buf[0:])
	for i := range s.Channels {
		s.Channels[i] = int32(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	return nil
}

func (*ConstraintData) PackedLen() int { return constraintLen }

func (c *ConstraintData) Pack(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(c.Mask))
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.Frequency))
	binary.LittleEndian.PutUint32(buf[8:], uint32(c.Bandwidth))
	binary.LittleEndian.PutUint32(buf[12:], uint32(c.Latency))
}

func (c *ConstraintData) Unpack(buf []byte) error {
	if len(buf) < constraintLen {
		return rcm.NewErrTruncated(len(buf), constraintLen)
	}
	c.Mask = int32(binary.LittleEndian.Uint32(buf[0:]))
	c.Frequency = int32(binary.LittleEndian.Uint32(buf[4:]))
	c.Bandwidth = int32(binary.LittleEndian.Uint32(buf[8:]))
	c.Latency = int32(binary.LittleEndian.Uint32(buf[12:]))
	return nil
}
