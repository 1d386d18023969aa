// Package transport provides the datagram endpoint contract between RCM
// clients and servers, the name-announcement control records, and an
// in-process loopback provider.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"sync"
	"time"

	"github.com/NVIDIA/rcm/cmn/debug"
	"github.com/NVIDIA/rcm/cmn/nlog"
	"github.com/pkg/errors"
)

// Loopback connects endpoints of a single process the way the shared-memory
// rings connect two processors: per-receiver FIFO with copy-on-send.

const (
	dfltBurst = 512 // frames a sender can post to one endpoint without blocking

	dynPortBase = uint32(1024)
)

type (
	datagram struct {
		frame []byte
		from  Addr
	}
	LoopEndpoint struct {
		lo      *Loopback
		addr    Addr
		rxCh    chan datagram
		unblock chan struct{}
		stopped sync.Once
		closed  chan struct{}
	}
	Loopback struct {
		mu       sync.Mutex
		proc     uint16
		ports    map[uint32]*LoopEndpoint
		nextPort uint32
		names    map[string]uint32 // announced services
	}
)

// interface guards
var (
	_ Network  = (*Loopback)(nil)
	_ Endpoint = (*LoopEndpoint)(nil)
)

func NewLoopback(proc uint16) *Loopback {
	return &Loopback{
		proc:     proc,
		ports:    make(map[uint32]*LoopEndpoint, 8),
		nextPort: dynPortBase,
		names:    make(map[string]uint32, 8),
	}
}

//////////////
// Loopback //
//////////////

func (lo *Loopback) OpenEndpoint() (Endpoint, error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	for {
		port := lo.nextPort
		lo.nextPort++
		if _, ok := lo.ports[port]; !ok {
			return lo.open(port), nil
		}
	}
}

func (lo *Loopback) OpenEndpointAt(port uint32) (Endpoint, error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	if _, ok := lo.ports[port]; ok {
		return nil, errors.Errorf("loopback: port %d already bound", port)
	}
	return lo.open(port), nil
}

// under lock
func (lo *Loopback) open(port uint32) *LoopEndpoint {
	ep := &LoopEndpoint{
		lo:      lo,
		addr:    Addr{Proc: lo.proc, Port: port},
		rxCh:    make(chan datagram, dfltBurst),
		unblock: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	lo.ports[port] = ep
	return ep
}

func (lo *Loopback) Send(dst, src Addr, frame []byte) error {
	lo.mu.Lock()
	ep, ok := lo.ports[dst.Port]
	lo.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrClosed, "loopback: no endpoint at %s", dst)
	}
	// the receiver owns its copy
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case ep.rxCh <- datagram{frame: cp, from: src}:
		return nil
	case <-ep.closed:
		return errors.Wrapf(ErrClosed, "loopback: endpoint %s closed", dst)
	}
}

func (lo *Loopback) Announce(name string, port uint32) error {
	return lo.announce(name, port, NSCreate)
}

func (lo *Loopback) Withdraw(name string, port uint32) error {
	return lo.announce(name, port, NSDestroy)
}

func (lo *Loopback) announce(name string, port, flags uint32) error {
	msg := NSMsg{Name: name, Port: port, Flags: flags}
	lo.mu.Lock()
	if flags == NSCreate {
		lo.names[msg.Name] = port
	} else {
		delete(lo.names, msg.Name)
	}
	ns, ok := lo.ports[NSPort]
	lo.mu.Unlock()

	nlog.Infof("loopback: %s service %q on port %d", nsVerb(flags), msg.Name, port)
	if !ok {
		// no name server bound; the registry above is still queryable
		return nil
	}
	buf := make([]byte, NSMsgSize)
	return lo.Send(ns.addr, Addr{Proc: lo.proc, Port: port}, msg.Pack(buf))
}

// Resolve looks up a previously announced service (loopback name registry).
func (lo *Loopback) Resolve(name string) (port uint32, ok bool) {
	lo.mu.Lock()
	port, ok = lo.names[name]
	lo.mu.Unlock()
	return
}

func nsVerb(flags uint32) string {
	if flags == NSDestroy {
		return "un-registering"
	}
	return "registering"
}

//////////////////
// LoopEndpoint //
//////////////////

func (ep *LoopEndpoint) Addr() Addr { return ep.addr }

func (ep *LoopEndpoint) Recv(timeout time.Duration) (frame []byte, from Addr, err error) {
	if timeout == NoBlock {
		select {
		case dg := <-ep.rxCh:
			return dg.frame, dg.from, nil
		case <-ep.closed:
			return nil, Addr{}, ErrClosed
		default:
			return nil, Addr{}, ErrTimedOut
		}
	}
	if timeout == Forever {
		select {
		case dg := <-ep.rxCh:
			return dg.frame, dg.from, nil
		case <-ep.unblock:
			return nil, Addr{}, ErrUnblocked
		case <-ep.closed:
			return nil, Addr{}, ErrClosed
		}
	}
	debug.Assert(timeout > 0, timeout)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case dg := <-ep.rxCh:
		return dg.frame, dg.from, nil
	case <-ep.unblock:
		return nil, Addr{}, ErrUnblocked
	case <-ep.closed:
		return nil, Addr{}, ErrClosed
	case <-t.C:
		return nil, Addr{}, ErrTimedOut
	}
}

func (ep *LoopEndpoint) Unblock() {
	select {
	case ep.unblock <- struct{}{}:
	default:
	}
}

func (ep *LoopEndpoint) Close() error {
	ep.stopped.Do(func() {
		ep.lo.mu.Lock()
		delete(ep.lo.ports, ep.addr.Port)
		ep.lo.mu.Unlock()
		close(ep.closed)
	})
	return nil
}
