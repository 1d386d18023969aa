// Package svcmgr implements the service manager: a well-known endpoint
// that creates and destroys RCM server instances on demand by service name
// and publishes them upstream via name announcements.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package svcmgr

import (
	"encoding/binary"
	"time"

	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	"github.com/pkg/errors"
)

// Host-side counterparts of the control protocol (the role the peer
// driver plays): request a service instance, tear one down.

// Connect asks the manager at mgr to instantiate service name and returns
// the new instance's endpoint port.
func Connect(net transport.Network, ep transport.Endpoint, mgr transport.Addr, name string, timeout time.Duration) (uint32, error) {
	if len(name) >= connNameLen {
		return 0, rcm.ErrInvalidArgument
	}
	data := make([]byte, connNameLen)
	copy(data, name)

	buf := make([]byte, hdrSize+connNameLen)
	if err := net.Send(mgr, ep.Addr(), packCtrl(MsgConnReq, 0, data, buf)); err != nil {
		return 0, errors.Wrap(err, "svcmgr: connect")
	}
	frame, _, err := ep.Recv(timeout)
	if err != nil {
		return 0, errors.Wrap(err, "svcmgr: connect")
	}
	hdr, payload, err := unpackCtrl(frame)
	if err != nil {
		return 0, err
	}
	if hdr.Type != MsgConnRsp {
		return 0, rcm.ErrInvalidMsgType
	}
	status, endpoint, err := UnpackConnRsp(payload)
	if err != nil {
		return 0, err
	}
	switch status {
	case StatusSuccess:
		return endpoint, nil
	case StatusNotSupp:
		return 0, rcm.ErrNotImplemented
	case StatusNoMem:
		return 0, rcm.ErrNoMemory
	default:
		return 0, rcm.ErrServerError
	}
}

// Disconnect asks the manager to destroy the instance at port. There is
// no response on the wire.
func Disconnect(net transport.Network, from transport.Addr, mgr transport.Addr, port uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, port)
	buf := make([]byte, hdrSize+4)
	return errors.Wrap(net.Send(mgr, from, packCtrl(MsgDiscReq, 0, data, buf)), "svcmgr: disconnect")
}
