// Package server implements the RCM server.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server_test

import (
	"encoding/binary"
	"testing"

	"github.com/NVIDIA/rcm/client"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/server"
	"github.com/NVIDIA/rcm/tools/tassert"
	"github.com/NVIDIA/rcm/transport"
)

// round-trip latency of the doubling RPC, in-line vs pooled dispatch
func BenchmarkExecDouble(b *testing.B) {
	benches := []struct {
		name string
		cfg  *server.Config
	}{
		{"inline", &server.Config{Name: "bench"}},
		{"pool1", &server.Config{Name: "bench", WorkerPools: []server.PoolConfig{{Name: "w", Count: 1}}}},
		{"pool4", &server.Config{Name: "bench", WorkerPools: []server.PoolConfig{{Name: "w", Count: 4}}}},
	}
	for _, bench := range benches {
		b.Run(bench.name, func(b *testing.B) {
			lo := transport.NewLoopback(1)
			srv, err := server.New(&server.Args{Net: lo, Config: bench.cfg, Fxns: staticFxns()})
			tassert.CheckFatal(b, err)
			tassert.CheckFatal(b, srv.Start())
			defer srv.Delete()

			c, err := client.New(lo, srv.Addr(), nil)
			tassert.CheckFatal(b, err)
			defer c.Delete()

			poolID := rcm.PoolIDDefault
			if len(bench.cfg.WorkerPools) > 0 {
				poolID |= 1
			}
			pkt, _ := c.Alloc(4)
			defer c.Free(pkt)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				pkt.FxnIdx = rcm.StaticIdx(3)
				pkt.SetPoolID(poolID)
				binary.LittleEndian.PutUint32(pkt.Data, 7)
				reply, err := c.Exec(pkt)
				if err != nil {
					b.Fatal(err)
				}
				c.Free(reply)
			}
		})
	}
}
