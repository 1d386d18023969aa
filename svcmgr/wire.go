// Package svcmgr implements the service manager: a well-known endpoint
// that creates and destroys RCM server instances on demand by service name
// and publishes them upstream via name announcements.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package svcmgr

import (
	"bytes"
	"encoding/binary"

	"github.com/NVIDIA/rcm/rcm"
)

// control-channel outer framing: { u32 type; u32 flags; u32 len; u8 data[len] }

const hdrSize = 12

// control message types
const (
	MsgConnReq = uint32(0)
	MsgConnRsp = uint32(1)
	MsgPing    = uint32(2)
	MsgPong    = uint32(3)
	MsgDiscReq = uint32(4)
	MsgRaw     = uint32(5)
	MsgDiscRsp = uint32(6)
)

// control status codes
const (
	StatusSuccess = uint32(0)
	StatusNotSupp = uint32(1)
	StatusNoMem   = uint32(2)
	StatusFail    = uint32(3)
)

const (
	// service names in the registry
	MaxNameLen = 64
	// service name in a connect request, NUL-terminated
	connNameLen = 48
)

type ctrlHdr struct {
	Type  uint32
	Flags uint32
	Len   uint32
}

func packCtrl(msgType, flags uint32, data, buf []byte) []byte {
	binary.LittleEndian.PutUint32(buf[0:], msgType)
	binary.LittleEndian.PutUint32(buf[4:], flags)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(data)))
	copy(buf[hdrSize:], data)
	return buf[:hdrSize+len(data)]
}

func unpackCtrl(frame []byte) (hdr ctrlHdr, data []byte, err error) {
	if len(frame) < hdrSize {
		err = rcm.NewErrTruncated(len(frame), hdrSize)
		return
	}
	hdr.Type = binary.LittleEndian.Uint32(frame[0:])
	hdr.Flags = binary.LittleEndian.Uint32(frame[4:])
	hdr.Len = binary.LittleEndian.Uint32(frame[8:])
	if uint32(len(frame)-hdrSize) < hdr.Len {
		err = rcm.NewErrTruncated(len(frame), hdrSize+int(hdr.Len))
		return
	}
	data = frame[hdrSize : hdrSize+int(hdr.Len)]
	return
}

// CONN_RSP data: { u32 status; u32 endpoint }
func packConnRsp(status, endpoint uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], status)
	binary.LittleEndian.PutUint32(b[4:], endpoint)
	return b
}

func UnpackConnRsp(data []byte) (status, endpoint uint32, err error) {
	if len(data) < 8 {
		err = rcm.NewErrTruncated(len(data), 8)
		return
	}
	status = binary.LittleEndian.Uint32(data[0:])
	endpoint = binary.LittleEndian.Uint32(data[4:])
	return
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
