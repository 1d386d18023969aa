// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/rcm/client"
	"github.com/NVIDIA/rcm/cmn/mono"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/server"
	"github.com/NVIDIA/rcm/tools/tassert"
	"github.com/NVIDIA/rcm/transport"
)

// static table used throughout: slot 0 is the create function, slot 3
// doubles its int32 argument (the benchmark function)
func staticFxns() []server.FxnDesc {
	return []server.FxnDesc{
		{Name: "init", Create: func(*server.Server, []byte) int32 { return 0 }},
		{Name: "reserved1", Fxn: func([]byte) int32 { return 0 }},
		{Name: "reserved2", Fxn: func([]byte) int32 { return 0 }},
		{Name: "fxnDouble", Fxn: fxnDouble},
		{Name: "fxnFail", Fxn: func([]byte) int32 { return -22 }},
	}
}

func fxnDouble(data []byte) int32 {
	x := int32(binary.LittleEndian.Uint32(data))
	binary.LittleEndian.PutUint32(data, uint32(2*x))
	return 2 * x
}

func startServer(t *testing.T, cfg *server.Config, fxns []server.FxnDesc) (*transport.Loopback, *server.Server) {
	t.Helper()
	lo := transport.NewLoopback(1)
	srv, err := server.New(&server.Args{Net: lo, Config: cfg, Fxns: fxns})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, srv.Start())
	t.Cleanup(srv.Delete)
	return lo, srv
}

func newClient(t *testing.T, lo *transport.Loopback, srv *server.Server) *client.Client {
	t.Helper()
	c, err := client.New(lo, srv.Addr(), nil)
	tassert.CheckFatal(t, err)
	t.Cleanup(c.Delete)
	return c
}

// the "fxnDouble" RPC, in-line default pool
func TestExecDouble(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "bench"}, staticFxns())
	c := newClient(t, lo, srv)

	pkt, err := c.Alloc(4)
	tassert.CheckFatal(t, err)
	defer c.Free(pkt)
	pkt.FxnIdx = 0x80000003 // static slot 3
	pkt.SetPoolID(rcm.PoolIDDefault)
	binary.LittleEndian.PutUint32(pkt.Data, 7)

	reply, err := c.Exec(pkt)
	tassert.CheckFatal(t, err)
	defer c.Free(reply)
	tassert.Errorf(t, reply.Status() == rcm.StatusSuccess, "status %d", reply.Status())
	tassert.Errorf(t, reply.Result == 14, "result %d, want 14", reply.Result)
	tassert.Errorf(t, reply.MsgID == pkt.MsgID, "msg id %d vs %d", reply.MsgID, pkt.MsgID)
	tassert.Errorf(t, binary.LittleEndian.Uint32(reply.Data) == 14, "payload %d", binary.LittleEndian.Uint32(reply.Data))
}

func TestExecInvalidFxn(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	c := newClient(t, lo, srv)

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx = 0x80001234
	pkt.SetPoolID(rcm.PoolIDDefault)

	reply, err := c.Exec(pkt)
	tassert.Errorf(t, err == rcm.ErrInvalidFxnIdx, "expected invalid-fxn, got %v", err)
	tassert.Fatalf(t, reply != nil, "no reply packet")
	defer c.Free(reply)
	tassert.Errorf(t, reply.Status() == rcm.StatusInvalidFxn, "status %d", reply.Status())
}

func TestExecMsgFxnErr(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	c := newClient(t, lo, srv)

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx = rcm.StaticIdx(4) // fxnFail
	pkt.SetPoolID(rcm.PoolIDDefault)

	reply, err := c.Exec(pkt)
	tassert.Errorf(t, err == rcm.ErrMsgFxnError, "expected fxn error, got %v", err)
	tassert.Fatalf(t, reply != nil, "no reply packet")
	defer c.Free(reply)
	// the handler's return is preserved verbatim
	tassert.Errorf(t, reply.Result == -22, "result %d", reply.Result)
}

// symbol lookup round-trip, then exec through the returned index
func TestSymbolLookup(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	c := newClient(t, lo, srv)

	want, err := srv.AddSymbol("LED_on", func(data []byte) int32 {
		binary.LittleEndian.PutUint32(data, 0x1ed)
		return 0
	})
	tassert.CheckFatal(t, err)

	idx, err := c.GetSymbolIndex("LED_on")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, idx == want, "symbol index 0x%x vs 0x%x", idx, want)

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx = idx
	pkt.SetPoolID(rcm.PoolIDDefault)
	reply, err := c.Exec(pkt)
	tassert.CheckFatal(t, err)
	defer c.Free(reply)
	tassert.Errorf(t, reply.Word0() == 0x1ed, "exec through looked-up index: 0x%x", reply.Word0())

	_, err = c.GetSymbolIndex("LED_off")
	tassert.Errorf(t, err == rcm.ErrSymbolNotFound, "missing symbol: %v", err)
}

func TestPoolNotFound(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	c := newClient(t, lo, srv)

	executed := false
	trapIdx, err := srv.AddSymbol("trap", func([]byte) int32 { executed = true; return 0 })
	tassert.CheckFatal(t, err)

	for _, poolID := range []uint16{
		rcm.PoolIDDefault | 7, // static bit, offset beyond configured pools
		0x0001,                // dynamic pool ids are reserved
	} {
		pkt, _ := c.Alloc(4)
		pkt.FxnIdx = trapIdx
		pkt.SetPoolID(poolID)
		reply, err := c.Exec(pkt)
		tassert.Errorf(t, err == rcm.ErrPoolIDNotFound, "pool 0x%x: %v", poolID, err)
		tassert.Fatalf(t, reply != nil, "pool 0x%x: no reply", poolID)
		c.Free(pkt)
		c.Free(reply)
	}
	tassert.Errorf(t, !executed, "handler ran despite unknown pool")
}

func TestJobNotFound(t *testing.T) {
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	c := newClient(t, lo, srv)

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx = rcm.StaticIdx(3)
	pkt.SetPoolID(rcm.PoolIDDefault)
	pkt.SetJobID(777) // never acquired
	reply, err := c.Exec(pkt)
	tassert.Errorf(t, err == rcm.ErrJobIDNotFound, "unknown job: %v", err)
	tassert.Fatalf(t, reply != nil, "no reply")
	c.Free(reply)
}

// per-job in-order execution on a multi-worker pool
func TestJobOrdering(t *testing.T) {
	cfg := &server.Config{
		Name:        "tsrv",
		WorkerPools: []server.PoolConfig{{Name: "workers", Count: 4}},
	}
	var (
		mu     sync.Mutex
		starts []int64
		ends   []int64
	)
	fxns := staticFxns()
	lo, srv := startServer(t, cfg, fxns)
	_, err := srv.AddSymbol("slow", func([]byte) int32 {
		mu.Lock()
		starts = append(starts, mono.NanoTime())
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		ends = append(ends, mono.NanoTime())
		mu.Unlock()
		return 0
	})
	tassert.CheckFatal(t, err)

	c := newClient(t, lo, srv)
	idx, err := c.GetSymbolIndex("slow")
	tassert.CheckFatal(t, err)
	jobID, err := c.AcquireJobID()
	tassert.CheckFatal(t, err)

	const n = 3
	msgIDs := make([]uint16, 0, n)
	pkts := make([]*rcm.Packet, 0, n)
	for range n {
		pkt, _ := c.Alloc(4)
		pkt.FxnIdx = idx
		pkt.SetPoolID(rcm.PoolIDDefault | 1)
		pkt.SetJobID(jobID)
		msgID, err := c.ExecNoWait(pkt)
		tassert.CheckFatal(t, err)
		msgIDs = append(msgIDs, msgID)
		pkts = append(pkts, pkt)
	}
	for _, msgID := range msgIDs {
		reply, err := c.WaitUntilDone(msgID)
		tassert.CheckFatal(t, err)
		c.Free(reply)
	}
	for _, pkt := range pkts {
		c.Free(pkt)
	}
	tassert.CheckFatal(t, c.ReleaseJobID(jobID))

	tassert.Fatalf(t, len(starts) == n && len(ends) == n, "%d starts, %d ends", len(starts), len(ends))
	for i := 1; i < n; i++ {
		// strictly increasing starts, no overlap
		tassert.Errorf(t, starts[i] > starts[i-1], "start order violated at %d", i)
		tassert.Errorf(t, starts[i] >= ends[i-1], "handler %d overlapped its predecessor", i)
	}
}

// release with pending messages: one completes, the rest come back UNPROCESSED
func TestJobReleasePending(t *testing.T) {
	cfg := &server.Config{
		Name:        "tsrv",
		WorkerPools: []server.PoolConfig{{Name: "workers", Count: 2}},
	}
	lo, srv := startServer(t, cfg, staticFxns())
	_, err := srv.AddSymbol("slow", func([]byte) int32 {
		time.Sleep(100 * time.Millisecond)
		return 0
	})
	tassert.CheckFatal(t, err)

	c := newClient(t, lo, srv)
	idx, err := c.GetSymbolIndex("slow")
	tassert.CheckFatal(t, err)
	jobID, err := c.AcquireJobID()
	tassert.CheckFatal(t, err)

	const n = 5
	msgIDs := make([]uint16, 0, n)
	for range n {
		pkt, _ := c.Alloc(4)
		pkt.FxnIdx = idx
		pkt.SetPoolID(rcm.PoolIDDefault | 1)
		pkt.SetJobID(jobID)
		msgID, err := c.ExecNoWait(pkt)
		tassert.CheckFatal(t, err)
		msgIDs = append(msgIDs, msgID)
		c.Free(pkt)
	}
	tassert.CheckFatal(t, c.ReleaseJobID(jobID))

	var done, unprocessed int
	for _, msgID := range msgIDs {
		reply, err := c.WaitUntilDone(msgID)
		switch err {
		case nil:
			done++
		case rcm.ErrUnprocessed:
			unprocessed++
		default:
			t.Fatalf("msg %d: unexpected %v", msgID, err)
		}
		c.Free(reply)
	}
	tassert.Errorf(t, done == 1, "%d messages completed, want 1", done)
	tassert.Errorf(t, unprocessed == n-1, "%d unprocessed, want %d", unprocessed, n-1)
}

// shutdown completeness: every queued packet is executed or UNPROCESSED
func TestShutdownDrain(t *testing.T) {
	cfg := &server.Config{
		Name:        "tsrv",
		WorkerPools: []server.PoolConfig{{Name: "workers", Count: 1}},
	}
	lo := transport.NewLoopback(1)
	srv, err := server.New(&server.Args{Net: lo, Config: cfg, Fxns: staticFxns()})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, srv.Start())

	_, err = srv.AddSymbol("slow", func([]byte) int32 {
		time.Sleep(30 * time.Millisecond)
		return 0
	})
	tassert.CheckFatal(t, err)

	c, err := client.New(lo, srv.Addr(), nil)
	tassert.CheckFatal(t, err)
	defer c.Delete()

	idx, err := c.GetSymbolIndex("slow")
	tassert.CheckFatal(t, err)

	const n = 6
	msgIDs := make([]uint16, 0, n)
	for range n {
		pkt, _ := c.Alloc(4)
		pkt.FxnIdx = idx
		pkt.SetPoolID(rcm.PoolIDDefault | 1)
		msgID, err := c.ExecNoWait(pkt)
		tassert.CheckFatal(t, err)
		msgIDs = append(msgIDs, msgID)
		c.Free(pkt)
	}
	time.Sleep(50 * time.Millisecond) // let the dispatcher queue them
	srv.Shutdown()
	tassert.Errorf(t, srv.State() == server.Terminated, "state %d after shutdown", srv.State())

	var replies int
	for _, msgID := range msgIDs {
		reply, err := c.WaitUntilDone(msgID)
		tassert.Fatalf(t, err == nil || err == rcm.ErrUnprocessed, "msg %d: %v", msgID, err)
		replies++
		c.Free(reply)
	}
	tassert.Errorf(t, replies == n, "%d replies after drain, want %d", replies, n)
	srv.Delete()
}

// reply-before-execute semantics of deferred procedure calls
func TestExecDpc(t *testing.T) {
	ran := make(chan struct{}, 1)
	fxns := staticFxns()
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, fxns)
	_, err := srv.AddSymbol("dpc", func(data []byte) int32 {
		tassert.Errorf(t, len(data) == 0, "dpc handler got %d payload bytes", len(data))
		ran <- struct{}{}
		return 0
	})
	tassert.CheckFatal(t, err)

	c := newClient(t, lo, srv)
	idx, err := c.GetSymbolIndex("dpc")
	tassert.CheckFatal(t, err)

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx = idx
	reply, err := c.ExecDpc(pkt)
	tassert.CheckFatal(t, err)
	c.Free(reply)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("dpc handler never ran")
	}

	pkt2, _ := c.Alloc(4)
	defer c.Free(pkt2)
	pkt2.FxnIdx = rcm.DynIdx(3, 1, 0) // bogus key
	reply, err = c.ExecDpc(pkt2)
	tassert.Errorf(t, err == rcm.ErrSymbolNotFound, "bogus dpc: %v", err)
	c.Free(reply)
}

// one-way commands reply only on error, to the client's error queue
func TestExecCmd(t *testing.T) {
	ran := make(chan struct{}, 1)
	lo, srv := startServer(t, &server.Config{Name: "tsrv"}, staticFxns())
	_, err := srv.AddSymbol("cmd", func([]byte) int32 {
		ran <- struct{}{}
		return 0
	})
	tassert.CheckFatal(t, err)

	c := newClient(t, lo, srv)
	idx, err := c.GetSymbolIndex("cmd")
	tassert.CheckFatal(t, err)

	pkt, _ := c.Alloc(4)
	pkt.FxnIdx = idx
	tassert.CheckFatal(t, c.ExecCmd(pkt))
	c.Free(pkt)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("cmd handler never ran")
	}
	errPkt, err := c.CheckForError()
	tassert.Errorf(t, errPkt == nil && err == nil, "unexpected error-queue entry: %v %v", errPkt, err)

	// a failing command surfaces on the error queue
	bad, _ := c.Alloc(4)
	bad.FxnIdx = rcm.StaticIdx(4) // fxnFail
	tassert.CheckFatal(t, c.ExecCmd(bad))
	c.Free(bad)

	deadline := time.Now().Add(time.Second)
	for {
		errPkt, err = c.CheckForError()
		if errPkt != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	tassert.Fatalf(t, errPkt != nil, "no error-queue entry for failing cmd")
	tassert.Errorf(t, err == rcm.ErrMsgFxnError, "error mapping: %v", err)
	tassert.Errorf(t, errPkt.Result == -22, "result %d", errPkt.Result)
	c.Free(errPkt)
}

func TestConfigJSON(t *testing.T) {
	cfg := &server.Config{
		Name:        "codec",
		DefaultPool: server.PoolConfig{Name: "default", Count: 0},
		WorkerPools: []server.PoolConfig{{Name: "workers", Count: 4, Priority: 10, StackSize: 0x8000}},
	}
	b := cfg.Marshal()
	tassert.Fatalf(t, b != nil, "marshal failed")
	out, err := server.LoadConfig(b)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, out.Name == cfg.Name && len(out.WorkerPools) == 1, "round-trip: %+v", out)
	tassert.Errorf(t, out.WorkerPools[0].Count == 4, "pool count %d", out.WorkerPools[0].Count)

	_, err = server.LoadConfig([]byte(`{"worker_pools":[{"name":"bad","count":0}]}`))
	tassert.Errorf(t, err != nil, "zero-worker pool validated")
}
