// Package transport provides the datagram endpoint contract between RCM
// clients and servers, the name-announcement control records, and an
// in-process loopback provider.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/OneOfOne/xxhash"
)

// The transport is a reliable datagram channel: frames from a single sender
// to a single receiver are delivered in order. Frames may be lost only on
// teardown races, which the core treats as fatal.

const (
	// recv timeout semantics
	NoBlock = time.Duration(0)
	Forever = time.Duration(-1)
)

var (
	ErrTimedOut  = errors.New("transport: recv timed out")
	ErrUnblocked = errors.New("transport: recv unblocked")
	ErrClosed    = errors.New("transport: endpoint closed")
)

type (
	// Addr locates an endpoint on a given processor.
	Addr struct {
		Proc uint16
		Port uint32
	}

	// Endpoint is one side of the datagram channel. Recv with timeout
	// NoBlock polls, Forever blocks until a frame, Unblock, or Close.
	Endpoint interface {
		Addr() Addr
		Recv(timeout time.Duration) (frame []byte, from Addr, err error)
		Unblock()
		Close() error
	}

	// Network opens endpoints and moves frames between them. Send takes
	// ownership of nothing: the frame is copied into the transport.
	Network interface {
		OpenEndpoint() (Endpoint, error)
		OpenEndpointAt(port uint32) (Endpoint, error)
		Send(dst, src Addr, frame []byte) error
		Announce(name string, port uint32) error
		Withdraw(name string, port uint32) error
	}
)

func (a Addr) String() string { return fmt.Sprintf("%d:%d", a.Proc, a.Port) }

// UID is a stable 64-bit endpoint id (map keys, session tracking).
func (a Addr) UID() uint64 {
	var b [6]byte
	binary.LittleEndian.PutUint16(b[0:], a.Proc)
	binary.LittleEndian.PutUint32(b[2:], a.Port)
	return xxhash.Checksum64(b[:])
}
