// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/rcm/cmn/cos"
	"github.com/NVIDIA/rcm/cmn/debug"
	"github.com/NVIDIA/rcm/cmn/nlog"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	"golang.org/x/sync/errgroup"
)

type (
	// inPkt is a received packet plus its reply address (the datagram
	// source, set by the sender before transport dispatch).
	inPkt struct {
		pkt  *rcm.Packet
		from transport.Addr
	}

	// workerPool: count workers sharing a counting semaphore and a FIFO
	// ready queue. The semaphore count equals the number of queued
	// packets, so any available worker may wake.
	workerPool struct {
		srv    *Server
		name   string
		id     uint16 // wire pool id: bit 15 set, low 8 bits the offset
		count  int
		prio   uint8
		sem    *cos.Semaphore
		mtx    sync.Mutex
		readyQ []*inPkt
		term   atomic.Bool
		eg     *errgroup.Group
	}
)

func newPool(srv *Server, offset int, pc *PoolConfig) *workerPool {
	p := &workerPool{
		srv:   srv,
		name:  pc.Name,
		id:    rcm.PoolIDDefault | uint16(offset),
		count: pc.Count,
		prio:  pc.Priority,
		sem:   cos.NewSemaphore(0),
	}
	if p.name == "" {
		p.name = "pool-" + cos.GenTie()
	}
	return p
}

func (p *workerPool) inline() bool { return p.count == 0 }

// spawn the workers (server create)
func (p *workerPool) start() {
	debug.Assert(p.eg == nil)
	p.eg = &errgroup.Group{}
	for range p.count {
		p.eg.Go(p.worker)
	}
}

// post the packet on the ready queue and wake one worker
func (p *workerPool) post(ip *inPkt) {
	p.mtx.Lock()
	p.readyQ = append(p.readyQ, ip)
	p.mtx.Unlock()
	p.srv.stats.queued.Inc()
	p.sem.Post()
}

func (p *workerPool) pop() (ip *inPkt) {
	p.mtx.Lock()
	if len(p.readyQ) > 0 {
		ip = p.readyQ[0]
		p.readyQ[0] = nil
		p.readyQ = p.readyQ[1:]
	}
	p.mtx.Unlock()
	if ip != nil {
		p.srv.stats.queued.Dec()
	}
	return
}

func (p *workerPool) worker() error {
	for {
		p.sem.Wait()
		if p.term.Load() {
			return nil
		}
		ip := p.pop()
		// a worker removes exactly one packet per successful acquire
		debug.Assert(ip != nil)
		p.srv.processJob(ip, p)
	}
}

// stop sets the terminate flag, wakes every worker, and joins.
func (p *workerPool) stop() {
	if p.eg == nil {
		return
	}
	p.term.Store(true)
	for range p.count {
		p.sem.Post()
	}
	if err := p.eg.Wait(); err != nil {
		nlog.Errorln(p.name, "worker error:", err)
	}
	p.eg = nil
}

// drain returns every queued packet to its sender with status UNPROCESSED
// (shutdown path, after workers have joined).
func (p *workerPool) drain() {
	for {
		if !p.sem.TryWait() {
			break
		}
	}
	p.mtx.Lock()
	q := p.readyQ
	p.readyQ = nil
	p.mtx.Unlock()
	for _, ip := range q {
		p.srv.stats.queued.Dec()
		p.srv.returnStatus(ip, rcm.StatusUnprocessed)
	}
}
