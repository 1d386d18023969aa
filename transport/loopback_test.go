// Package transport provides the datagram endpoint contract between RCM
// clients and servers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/NVIDIA/rcm/tools/tassert"
	"github.com/NVIDIA/rcm/transport"
)

func TestLoopbackOrdering(t *testing.T) {
	lo := transport.NewLoopback(1)
	src, err := lo.OpenEndpoint()
	tassert.CheckFatal(t, err)
	dst, err := lo.OpenEndpoint()
	tassert.CheckFatal(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		err := lo.Send(dst.Addr(), src.Addr(), []byte(fmt.Sprintf("frame-%03d", i)))
		tassert.CheckFatal(t, err)
	}
	// single sender to single receiver: in order
	for i := 0; i < n; i++ {
		frame, from, err := dst.Recv(time.Second)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, from == src.Addr(), "sender addr %s vs %s", from, src.Addr())
		want := fmt.Sprintf("frame-%03d", i)
		tassert.Fatalf(t, string(frame) == want, "out of order: got %q, want %q", frame, want)
	}
	_, _, err = dst.Recv(transport.NoBlock)
	tassert.Errorf(t, err == transport.ErrTimedOut, "drained queue: %v", err)
}

func TestLoopbackUnblock(t *testing.T) {
	lo := transport.NewLoopback(1)
	ep, err := lo.OpenEndpoint()
	tassert.CheckFatal(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := ep.Recv(transport.Forever)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ep.Unblock()
	select {
	case err := <-done:
		tassert.Errorf(t, err == transport.ErrUnblocked, "expected unblocked, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("recv did not unblock")
	}
}

func TestLoopbackSendToClosed(t *testing.T) {
	lo := transport.NewLoopback(1)
	src, _ := lo.OpenEndpoint()
	dst, _ := lo.OpenEndpoint()
	addr := dst.Addr()
	dst.Close()
	err := lo.Send(addr, src.Addr(), []byte("late"))
	tassert.Errorf(t, err != nil, "send to closed endpoint succeeded")
}

func TestNameService(t *testing.T) {
	lo := transport.NewLoopback(1)
	ns, err := lo.OpenEndpointAt(transport.NSPort)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, lo.Announce("rpmsg-omx", 60))

	frame, _, err := ns.Recv(time.Second)
	tassert.CheckFatal(t, err)
	var msg transport.NSMsg
	tassert.CheckFatal(t, msg.Unpack(frame))
	tassert.Errorf(t, msg.Name == "rpmsg-omx", "announced name %q", msg.Name)
	tassert.Errorf(t, msg.Port == 60, "announced port %d", msg.Port)
	tassert.Errorf(t, msg.Flags == transport.NSCreate, "announced flags %d", msg.Flags)

	port, ok := lo.Resolve("rpmsg-omx")
	tassert.Errorf(t, ok && port == 60, "resolve got (%d, %v)", port, ok)

	tassert.CheckFatal(t, lo.Withdraw("rpmsg-omx", 60))
	frame, _, err = ns.Recv(time.Second)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, msg.Unpack(frame))
	tassert.Errorf(t, msg.Flags == transport.NSDestroy, "withdraw flags %d", msg.Flags)

	_, ok = lo.Resolve("rpmsg-omx")
	tassert.Errorf(t, !ok, "withdrawn name still resolves")
}

func TestNSMsgRoundTrip(t *testing.T) {
	in := transport.NSMsg{Name: "H264_decoder", Port: 1025, Flags: transport.NSCreate}
	buf := make([]byte, transport.NSMsgSize)
	var out transport.NSMsg
	tassert.CheckFatal(t, out.Unpack(in.Pack(buf)))
	tassert.Errorf(t, out == in, "round-trip: %+v vs %+v", out, in)
}

func TestAddrUID(t *testing.T) {
	a := transport.Addr{Proc: 1, Port: 60}
	b := transport.Addr{Proc: 1, Port: 61}
	tassert.Errorf(t, a.UID() == a.UID(), "uid not stable")
	tassert.Errorf(t, a.UID() != b.UID(), "uid collision for %s and %s", a, b)
}
