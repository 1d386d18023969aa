// Package transport provides the datagram endpoint contract between RCM
// clients and servers, the name-announcement control records, and an
// in-process loopback provider.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bytes"
	"encoding/binary"

	"github.com/NVIDIA/rcm/rcm"
)

// Name-announcement record sent to the peer's name-service endpoint:
//
//	{ u8 name[32]; u32 port; u32 flags; }

const (
	NSNameSize = 32
	NSMsgSize  = NSNameSize + 8

	// well-known name-service port on the peer
	NSPort = uint32(53)
)

const (
	NSCreate  = uint32(0)
	NSDestroy = uint32(1)
)

type NSMsg struct {
	Name  string
	Port  uint32
	Flags uint32
}

func (m *NSMsg) Pack(buf []byte) []byte {
	if len(m.Name) >= NSNameSize {
		m.Name = m.Name[:NSNameSize-1]
	}
	clear(buf[:NSNameSize])
	copy(buf, m.Name)
	binary.LittleEndian.PutUint32(buf[NSNameSize:], m.Port)
	binary.LittleEndian.PutUint32(buf[NSNameSize+4:], m.Flags)
	return buf[:NSMsgSize]
}

func (m *NSMsg) Unpack(frame []byte) error {
	if len(frame) < NSMsgSize {
		return rcm.NewErrTruncated(len(frame), NSMsgSize)
	}
	name := frame[:NSNameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	m.Name = string(name)
	m.Port = binary.LittleEndian.Uint32(frame[NSNameSize:])
	m.Flags = binary.LittleEndian.Uint32(frame[NSNameSize+4:])
	return nil
}
