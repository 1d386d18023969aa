// Package rcm implements the Remote Command Message packet protocol:
// the fixed-header wire codec, the 16-bit descriptor field, and the
// encoded function-index address space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package rcm

import (
	"encoding/binary"
	"fmt"

	"github.com/NVIDIA/rcm/cmn/debug"
)

// wire layout, little-endian, no implicit padding:
//
//	offset size field
//	0      2    desc     // bits 0-7 version, 8-11 type/status, 12-15 reserved
//	2      2    msg_id   // nonzero for real messages
//	4      4    flags    // bits 0-15 pool_id, 16-31 job_id
//	8      4    fxn_idx
//	12     4    result   // signed
//	16     4    data_size
//	20     N    data[data_size]

const HdrSize = 20

const (
	descVerMask   = uint16(0x00ff)
	descTypeMask  = uint16(0x0f00)
	descTypeShift = 8
)

type (
	Hdr struct {
		Desc     uint16
		MsgID    uint16
		Flags    uint32
		FxnIdx   uint32
		Result   int32
		DataSize uint32
	}
	Packet struct {
		Hdr
		Data []byte
	}
)

/////////
// Hdr //
/////////

func (hdr *Hdr) Type() uint16 { return (hdr.Desc & descTypeMask) >> descTypeShift }

// SetType clears bits 8-11 before writing so type and status never co-exist.
func (hdr *Hdr) SetType(t uint16) {
	debug.Assert(t <= 0xf, t)
	hdr.Desc = hdr.Desc&^descTypeMask | t<<descTypeShift
}

// status uses the same 4-bit field on the reply path
func (hdr *Hdr) Status() uint16     { return hdr.Type() }
func (hdr *Hdr) SetStatus(s uint16) { hdr.SetType(s) }

func (hdr *Hdr) Version() uint8 { return uint8(hdr.Desc & descVerMask) }
func (hdr *Hdr) SetVersion(v uint8) {
	hdr.Desc = hdr.Desc&^descVerMask | uint16(v)
}

func (hdr *Hdr) PoolID() uint16 { return uint16(hdr.Flags) }
func (hdr *Hdr) JobID() uint16  { return uint16(hdr.Flags >> 16) }

func (hdr *Hdr) SetPoolID(id uint16) { hdr.Flags = hdr.Flags&0xffff0000 | uint32(id) }
func (hdr *Hdr) SetJobID(id uint16)  { hdr.Flags = hdr.Flags&0x0000ffff | uint32(id)<<16 }

// GenMsgID returns sequential ids wrapping from 0xFFFF to 1, never 0.
// The caller serializes access to last.
func GenMsgID(last *uint16) uint16 {
	if *last == 0xffff {
		*last = 1
	} else {
		*last++
	}
	return *last
}

////////////
// Packet //
////////////

func (pkt *Packet) String() string {
	return fmt.Sprintf("pkt[id=%d,fxn=0x%x,pool=0x%x,job=%d,dlen=%d]",
		pkt.MsgID, pkt.FxnIdx, pkt.PoolID(), pkt.JobID(), pkt.DataSize)
}

// Word0 reads data[0] as a 32-bit little-endian word (symbol and job replies).
func (pkt *Packet) Word0() uint32 {
	debug.Assert(len(pkt.Data) >= 4)
	return binary.LittleEndian.Uint32(pkt.Data)
}

func (pkt *Packet) SetWord0(v uint32) {
	debug.Assert(len(pkt.Data) >= 4)
	binary.LittleEndian.PutUint32(pkt.Data, v)
}

////////////////////
// encode, decode //
////////////////////

// Encode marshals hdr and data into buf (len(buf) >= HdrSize+len(data))
// and returns the framed slice. hdr.DataSize is forced to len(data).
func Encode(hdr *Hdr, data, buf []byte) []byte {
	hdr.DataSize = uint32(len(data))
	debug.Assert(len(buf) >= HdrSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:], hdr.Desc)
	binary.LittleEndian.PutUint16(buf[2:], hdr.MsgID)
	binary.LittleEndian.PutUint32(buf[4:], hdr.Flags)
	binary.LittleEndian.PutUint32(buf[8:], hdr.FxnIdx)
	binary.LittleEndian.PutUint32(buf[12:], uint32(hdr.Result))
	binary.LittleEndian.PutUint32(buf[16:], hdr.DataSize)
	n := copy(buf[HdrSize:], data)
	debug.Assert(n == len(data))
	return buf[:HdrSize+len(data)]
}

// Decode unmarshals a frame; the returned payload aliases frame's memory.
func Decode(frame []byte) (hdr Hdr, data []byte, err error) {
	if len(frame) < HdrSize {
		err = NewErrTruncated(len(frame), HdrSize)
		return
	}
	hdr.Desc = binary.LittleEndian.Uint16(frame[0:])
	hdr.MsgID = binary.LittleEndian.Uint16(frame[2:])
	hdr.Flags = binary.LittleEndian.Uint32(frame[4:])
	hdr.FxnIdx = binary.LittleEndian.Uint32(frame[8:])
	hdr.Result = int32(binary.LittleEndian.Uint32(frame[12:]))
	hdr.DataSize = binary.LittleEndian.Uint32(frame[16:])
	if uint32(len(frame)-HdrSize) < hdr.DataSize {
		err = NewErrTruncated(len(frame), HdrSize+int(hdr.DataSize))
		return
	}
	data = frame[HdrSize : HdrSize+int(hdr.DataSize)]
	return
}
