// Package server implements the RCM server.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server_test

import (
	"encoding/binary"
	"fmt"

	"github.com/NVIDIA/rcm/client"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/server"
	"github.com/NVIDIA/rcm/transport"
)

func Example() {
	lo := transport.NewLoopback(1)

	srv, err := server.New(&server.Args{
		Net:    lo,
		Config: &server.Config{Name: "calc"},
		Fxns: []server.FxnDesc{
			{Name: "init", Create: func(*server.Server, []byte) int32 { return 0 }},
			{Name: "fxnDouble", Fxn: func(data []byte) int32 {
				return 2 * int32(binary.LittleEndian.Uint32(data))
			}},
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	srv.Start()
	defer srv.Delete()

	c, err := client.New(lo, srv.Addr(), nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer c.Delete()

	pkt, _ := c.Alloc(4)
	defer c.Free(pkt)
	pkt.FxnIdx, _ = c.GetSymbolIndex("fxnDouble")
	pkt.SetPoolID(rcm.PoolIDDefault)
	binary.LittleEndian.PutUint32(pkt.Data, 7)

	reply, err := c.Exec(pkt)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer c.Free(reply)
	fmt.Println(reply.Result)

	// Output:
	// 14
}
