// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"github.com/NVIDIA/rcm/cmn/debug"
	"github.com/NVIDIA/rcm/rcm"
)

// jobStream: an ordered stream of packets identified by a 16-bit id.
// While empty == false exactly one packet of this job is either on a pool
// ready queue or being executed; later packets wait in pending.
type jobStream struct {
	id      uint16
	pending []*inPkt
	empty   bool
}

// acquireJobID returns a fresh id distinct from DISCRETE and from every
// live job, wrapping at 0xFFFF; gives up after scanning the full id space.
func (srv *Server) acquireJobID() (uint16, error) {
	srv.mtx.Lock()
	defer srv.mtx.Unlock()

	id := srv.nextJobID
	for range 0xffff {
		id++
		if id == rcm.JobIDDiscrete {
			continue
		}
		if _, inuse := srv.jobs[id]; inuse {
			continue
		}
		srv.nextJobID = id
		srv.jobs[id] = &jobStream{id: id, empty: true}
		return id, nil
	}
	return rcm.JobIDDiscrete, rcm.ErrServerError
}

// releaseJobID removes the stream; packets still pending are returned to
// their senders with status UNPROCESSED.
func (srv *Server) releaseJobID(jobID uint16) error {
	srv.mtx.Lock()
	job, ok := srv.jobs[jobID]
	if !ok {
		srv.mtx.Unlock()
		return rcm.ErrJobIDNotFound
	}
	delete(srv.jobs, jobID)
	pending := job.pending
	job.pending = nil
	srv.mtx.Unlock()

	for _, ip := range pending {
		srv.returnStatus(ip, rcm.StatusUnprocessed)
	}
	return nil
}

// jobDispatch routes one RCM_MSG packet (§ non-inline pools). The caller
// has already resolved the target pool.
func (srv *Server) jobDispatch(ip *inPkt, pool *workerPool) {
	jobID := ip.pkt.JobID()
	if jobID == rcm.JobIDDiscrete {
		pool.post(ip)
		return
	}
	srv.mtx.Lock()
	job, ok := srv.jobs[jobID]
	if !ok {
		srv.mtx.Unlock()
		srv.returnStatus(ip, rcm.StatusJobNotFound)
		return
	}
	if job.empty {
		job.empty = false
		srv.mtx.Unlock()
		pool.post(ip)
		return
	}
	job.pending = append(job.pending, ip)
	srv.mtx.Unlock()
}

// dispatchInline is the in-line variant of jobDispatch: the dispatcher
// thread stands in for the (worker-less) pool. Job packets still obey the
// one-in-flight-per-job rule: a busy job parks the packet in pending and
// the finishing thread picks it up.
func (srv *Server) dispatchInline(ip *inPkt, pool *workerPool) {
	jobID := ip.pkt.JobID()
	if jobID == rcm.JobIDDiscrete {
		srv.process(ip)
		return
	}
	srv.mtx.Lock()
	job, ok := srv.jobs[jobID]
	if !ok {
		srv.mtx.Unlock()
		srv.returnStatus(ip, rcm.StatusJobNotFound)
		return
	}
	if !job.empty {
		job.pending = append(job.pending, ip)
		srv.mtx.Unlock()
		return
	}
	job.empty = false
	srv.mtx.Unlock()
	srv.processJob(ip, pool)
}

// processJob executes ip and then keeps the job moving: the next packet of
// the same job is either executed on this thread (same pool, or a pool
// with no workers of its own) or posted to its target pool.
func (srv *Server) processJob(ip *inPkt, cur *workerPool) {
	srv.process(ip)
	for ip.pkt.JobID() != rcm.JobIDDiscrete {
		next, pool := srv.jobNext(ip)
		if next == nil {
			return
		}
		if pool == cur || pool.inline() {
			srv.process(next)
			ip = next
			continue
		}
		pool.post(next)
		return
	}
}

// jobNext is the worker-side continuation: having finished ip, pull the
// next packet of the same job (nil if none or the job was released).
func (srv *Server) jobNext(ip *inPkt) (next *inPkt, pool *workerPool) {
	jobID := ip.pkt.JobID()
	debug.Assert(jobID != rcm.JobIDDiscrete)

	srv.mtx.Lock()
	defer srv.mtx.Unlock()
	job, ok := srv.jobs[jobID]
	if !ok {
		return nil, nil // released mid-flight
	}
	if len(job.pending) == 0 {
		job.empty = true
		return nil, nil
	}
	next = job.pending[0]
	job.pending[0] = nil
	job.pending = job.pending[1:]

	pool = srv.getPool(next.pkt.PoolID())
	debug.Assert(pool != nil, next.pkt.String()) // validated at dispatch
	return
}

// pool ids on the wire: bit 15 set selects a static pool, low 8 bits the
// offset; dynamic pool ids (bit 15 clear) are reserved.
func (srv *Server) getPool(poolID uint16) *workerPool {
	if poolID&rcm.PoolIDDefault == 0 {
		return nil
	}
	offset := int(poolID & 0xff)
	if offset >= len(srv.pools) {
		return nil
	}
	return srv.pools[offset]
}
