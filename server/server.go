// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/rcm/cmn/cos"
	"github.com/NVIDIA/rcm/cmn/mono"
	"github.com/NVIDIA/rcm/cmn/nlog"
	"github.com/NVIDIA/rcm/memsys"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// dispatcher states
const (
	Constructed = int32(iota)
	Running
	Draining
	Terminated
)

type (
	Args struct {
		Net    transport.Network
		Config *Config
		Fxns   []FxnDesc // static table, slot 0 may be a CreateFxn
		MM     *memsys.MMSA
		Reg    prometheus.Registerer
	}

	Server struct {
		name  string
		sname string // log prefix
		net   transport.Network
		ep    transport.Endpoint
		mm    *memsys.MMSA
		stats *stats

		mtx    sync.Mutex // instance gate: tables, jobs, key counters
		tables [rcm.MaxTables][]fxnSlot
		key    uint16

		pools []*workerPool // pools[0] is the default pool

		jobs      map[uint16]*jobStream
		nextJobID uint16

		state  atomic.Int32
		stopCh *cos.StopCh
		wg     sync.WaitGroup
	}
)

func New(args *Args) (*Server, error) {
	cfg := args.Config
	if cfg == nil || args.Net == nil {
		return nil, rcm.ErrInvalidArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ep, err := args.Net.OpenEndpoint()
	if err != nil {
		return nil, err
	}
	srv := &Server{
		name:   cfg.Name,
		net:    args.Net,
		ep:     ep,
		mm:     args.MM,
		jobs:   make(map[uint16]*jobStream, 8),
		stopCh: cos.NewStopCh(),
	}
	if srv.name == "" {
		srv.name = "rcmsrv"
	}
	srv.sname = srv.name + "[" + cos.GenUUID() + "]"
	if srv.mm == nil {
		srv.mm = (&memsys.MMSA{Name: srv.sname}).Init()
	}
	srv.stats = newStats(srv.name, args.Reg)
	srv.addStatic(args.Fxns)

	srv.pools = make([]*workerPool, 0, len(cfg.WorkerPools)+1)
	srv.pools = append(srv.pools, newPool(srv, 0, &cfg.DefaultPool))
	for i := range cfg.WorkerPools {
		srv.pools = append(srv.pools, newPool(srv, i+1, &cfg.WorkerPools[i]))
	}
	for _, p := range srv.pools {
		p.start()
	}
	nlog.Infof("%s: created at %s (%d pool%s)", srv.sname, ep.Addr(), len(srv.pools), cos.Plural(len(srv.pools)))
	return srv, nil
}

func (srv *Server) String() string       { return srv.sname }
func (srv *Server) Addr() transport.Addr { return srv.ep.Addr() }
func (srv *Server) State() int32         { return srv.state.Load() }

// SymbolIndex resolves a handler name to its encoded function index.
func (srv *Server) SymbolIndex(name string) (uint32, error) {
	srv.mtx.Lock()
	defer srv.mtx.Unlock()
	return srv.symbolIndex(name)
}

func (srv *Server) Start() error {
	if !srv.state.CompareAndSwap(Constructed, Running) {
		return rcm.ErrInvalidArgument
	}
	srv.wg.Add(1)
	go srv.run()
	return nil
}

// Shutdown is cooperative: unblock the dispatcher, join it, terminate and
// join the workers, then drain every queue with status UNPROCESSED.
func (srv *Server) Shutdown() {
	if !srv.state.CompareAndSwap(Running, Draining) {
		if srv.state.CompareAndSwap(Constructed, Terminated) {
			srv.teardown()
		}
		return
	}
	srv.stopCh.Close()
	srv.ep.Unblock()
	srv.wg.Wait()
	srv.teardown()
	srv.state.Store(Terminated)
	nlog.Infof("%s: terminated", srv.sname)
}

func (srv *Server) teardown() {
	for _, p := range srv.pools {
		p.stop()
	}
	for _, p := range srv.pools {
		p.drain()
	}
	// pending job packets
	srv.mtx.Lock()
	var pending []*inPkt
	for id, job := range srv.jobs {
		pending = append(pending, job.pending...)
		job.pending = nil
		delete(srv.jobs, id)
	}
	srv.mtx.Unlock()
	for _, ip := range pending {
		srv.returnStatus(ip, rcm.StatusUnprocessed)
	}
}

// Delete shuts the server down (if still up) and closes its endpoint.
func (srv *Server) Delete() {
	srv.Shutdown()
	srv.ep.Close()
	srv.mm.Terminate()
}

//////////////////////
// dispatcher loop  //
//////////////////////

func (srv *Server) run() {
	defer srv.wg.Done()
	for {
		frame, from, err := srv.ep.Recv(transport.Forever)
		if err != nil {
			if errors.Is(err, transport.ErrUnblocked) || errors.Is(err, transport.ErrClosed) {
				if srv.stopCh.Stopped() {
					return // Draining
				}
				continue
			}
			nlog.Errorln(srv.sname, "recv:", err)
			continue
		}
		hdr, data, err := rcm.Decode(frame)
		if err != nil {
			nlog.Warningln(srv.sname, "dropping frame:", err)
			continue
		}
		srv.stats.recv(hdr.Type())
		srv.dispatch(&inPkt{pkt: &rcm.Packet{Hdr: hdr, Data: data}, from: from})
	}
}

func (srv *Server) dispatch(ip *inPkt) {
	pkt := ip.pkt
	switch pkt.Type() {
	case rcm.TypeMsg:
		pool := srv.getPool(pkt.PoolID())
		if pool == nil {
			srv.returnStatus(ip, rcm.StatusPoolNotFound)
			return
		}
		if pool.inline() {
			// in-line pool: the dispatcher thread executes the handler
			srv.dispatchInline(ip, pool)
			return
		}
		srv.jobDispatch(ip, pool)

	case rcm.TypeCmd:
		srv.execCmd(ip)

	case rcm.TypeDPC:
		// reply first, then run the handler with an empty payload
		fxn, create, err := srv.getFxn(pkt.FxnIdx)
		if err != nil {
			srv.returnStatus(ip, rcm.StatusSymbolNotFound)
			return
		}
		srv.returnStatus(ip, rcm.StatusSuccess)
		if create != nil {
			create(srv, nil)
		} else if fxn != nil {
			fxn(nil)
		}

	case rcm.TypeSymIdx:
		srv.execSymIdx(ip)

	case rcm.TypeSymAdd:
		// reserved (dynamic code upload is out of protocol); no reply
		nlog.Warningln(srv.sname, "SYM_ADD not supported, dropping", pkt.String())

	case rcm.TypeJobAcq:
		if len(pkt.Data) < rcm.MinDataSize {
			srv.returnStatus(ip, rcm.StatusError)
			return
		}
		jobID, err := srv.acquireJobID()
		if err != nil {
			pkt.Result = -1
			srv.returnStatus(ip, rcm.StatusError)
			return
		}
		pkt.SetWord0(uint32(jobID))
		pkt.Result = 0
		srv.returnStatus(ip, rcm.StatusSuccess)

	case rcm.TypeJobRel:
		if len(pkt.Data) < rcm.MinDataSize {
			srv.returnStatus(ip, rcm.StatusError)
			return
		}
		jobID := uint16(pkt.Word0())
		if err := srv.releaseJobID(jobID); err != nil {
			pkt.Result = -1
			srv.returnStatus(ip, rcm.StatusJobNotFound)
			return
		}
		pkt.Result = 0
		srv.returnStatus(ip, rcm.StatusSuccess)

	default:
		srv.returnStatus(ip, rcm.StatusInvalidMsgType)
	}
}

/////////////////////////
// handler execution   //
/////////////////////////

// process executes the handler and returns the packet with the final
// status (workers and the in-line path).
func (srv *Server) process(ip *inPkt) {
	pkt := ip.pkt
	fxn, create, err := srv.getFxn(pkt.FxnIdx)
	if err != nil || (fxn == nil && create == nil) {
		srv.returnStatus(ip, rcm.StatusInvalidFxn)
		return
	}
	var (
		result  int32
		started = mono.NanoTime()
	)
	if create != nil {
		result = create(srv, pkt.Data)
	} else {
		result = fxn(pkt.Data)
	}
	srv.stats.exec(started)
	pkt.Result = result
	if result < 0 {
		srv.returnStatus(ip, rcm.StatusMsgFxnErr)
	} else {
		srv.returnStatus(ip, rcm.StatusSuccess)
	}
}

// one-way command: reply only on error (to the client's error queue)
func (srv *Server) execCmd(ip *inPkt) {
	pkt := ip.pkt
	fxn, create, err := srv.getFxn(pkt.FxnIdx)
	if err != nil || (fxn == nil && create == nil) {
		srv.returnStatus(ip, rcm.StatusInvalidFxn)
		return
	}
	var result int32
	if create != nil {
		result = create(srv, pkt.Data)
	} else {
		result = fxn(pkt.Data)
	}
	if result < 0 {
		pkt.Result = result
		srv.returnStatus(ip, rcm.StatusMsgFxnErr)
	}
	// success: the packet is freed, no reply
}

func (srv *Server) execSymIdx(ip *inPkt) {
	pkt := ip.pkt
	if len(pkt.Data) < rcm.MinDataSize {
		srv.returnStatus(ip, rcm.StatusError)
		return
	}
	name := pkt.Data
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	fxnIdx, err := srv.SymbolIndex(string(name))
	if err != nil {
		srv.returnStatus(ip, rcm.StatusSymbolNotFound)
		return
	}
	pkt.SetWord0(fxnIdx)
	pkt.Result = 0
	srv.returnStatus(ip, rcm.StatusSuccess)
}

// returnStatus sends the packet back to its reply address. The type field
// is cleared before the status is written so the caller can never observe
// a hybrid value; the original msg_id is preserved.
func (srv *Server) returnStatus(ip *inPkt, status uint16) {
	pkt := ip.pkt
	pkt.SetStatus(status)
	srv.stats.reply(status)

	buf := srv.mm.Alloc(rcm.HdrSize + len(pkt.Data))
	frame := rcm.Encode(&pkt.Hdr, pkt.Data, buf)
	if err := srv.net.Send(ip.from, srv.ep.Addr(), frame); err != nil {
		// the client will observe the absence as a lost message
		nlog.Errorf("%s: reply %s to %s failed: %v", srv.sname, pkt, ip.from, err)
	}
	srv.mm.Free(buf)
}
