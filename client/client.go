// Package client implements the RCM client: request marshalling and the
// mailbox/mailman return-message demultiplexer.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"sync"

	"github.com/NVIDIA/rcm/cmn/cos"
	"github.com/NVIDIA/rcm/cmn/nlog"
	"github.com/NVIDIA/rcm/memsys"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	"github.com/pkg/errors"
)

type (
	Config struct {
		Name string
		// callback-mode notification is scaffolding in the protocol and
		// remains unimplemented; true fails New with ErrNotImplemented
		CallbackNotification bool
	}

	// recipient: a caller thread waiting for a specific msg id; not yet
	// served by the mailman while slot == nil
	recipient struct {
		msgID uint16
		slot  *rcm.Packet
		event *cos.Event
	}

	Client struct {
		net     transport.Network
		srvAddr transport.Addr
		ep      transport.Endpoint // reply queue (self endpoint)
		errEp   transport.Endpoint // error queue (cmd replies)
		mm      *memsys.MMSA
		sname   string

		idMtx     sync.Mutex
		lastMsgID uint16

		// mailboxLock protects recipients and newMail; queueLock is a
		// role token only (single transport reader), not data protection
		mailboxLock sync.Mutex
		queueLock   roleToken
		recipients  []*recipient
		newMail     []*rcm.Packet
	}
)

func New(net transport.Network, srvAddr transport.Addr, cfg *Config) (*Client, error) {
	if net == nil {
		return nil, rcm.ErrInvalidArgument
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.CallbackNotification {
		return nil, rcm.ErrNotImplemented
	}
	ep, err := net.OpenEndpoint()
	if err != nil {
		return nil, errors.Wrap(err, "client: reply queue")
	}
	errEp, err := net.OpenEndpoint()
	if err != nil {
		ep.Close()
		return nil, errors.Wrap(err, "client: error queue")
	}
	name := cfg.Name
	if name == "" {
		name = "rcmclt"
	}
	c := &Client{
		net:     net,
		srvAddr: srvAddr,
		ep:      ep,
		errEp:   errEp,
		mm:      (&memsys.MMSA{Name: name}).Init(),
		sname:   name + "[" + cos.GenUUID() + "]",
	}
	nlog.Infof("%s: created at %s (server %s)", c.sname, ep.Addr(), srvAddr)
	return c, nil
}

func (c *Client) String() string { return c.sname }

func (c *Client) Delete() {
	c.ep.Unblock()
	c.ep.Close()
	c.errEp.Close()
	// wake any parked waiters; they will fail on the closed endpoint
	c.mailboxLock.Lock()
	for _, r := range c.recipients {
		r.event.Post()
	}
	c.mailboxLock.Unlock()
	c.mm.Terminate()
}

//////////////////////////
// packet alloc / free  //
//////////////////////////

// Alloc returns a request packet with a payload of dataSize bytes
// (minimum 4: replies are word-addressed).
func (c *Client) Alloc(dataSize int) (*rcm.Packet, error) {
	if dataSize < rcm.MinDataSize {
		dataSize = rcm.MinDataSize
	}
	pkt := &rcm.Packet{Data: c.mm.Alloc(dataSize)}
	pkt.FxnIdx = rcm.InvalidFxnIdx
	pkt.SetVersion(rcm.ProtoVersion)
	return pkt, nil
}

func (c *Client) Free(pkt *rcm.Packet) {
	if pkt != nil && pkt.Data != nil {
		c.mm.Free(pkt.Data)
		pkt.Data = nil
	}
}

//////////////////
// exec surface //
//////////////////

// Exec sends the message and blocks until its return message arrives.
// The reply packet is returned even when err != nil (inspect result);
// the caller frees both.
func (c *Client) Exec(pkt *rcm.Packet) (*rcm.Packet, error) {
	msgID, err := c.send(pkt, rcm.TypeMsg, c.ep.Addr())
	if err != nil {
		return nil, err
	}
	reply, err := c.waitFor(msgID)
	if err != nil {
		return nil, err
	}
	return reply, rcm.StatusToErr(reply.Status())
}

// ExecNoWait sends the message and returns its msg id for a later
// WaitUntilDone.
func (c *Client) ExecNoWait(pkt *rcm.Packet) (uint16, error) {
	msgID, err := c.send(pkt, rcm.TypeMsg, c.ep.Addr())
	if err != nil {
		return rcm.InvalidMsgID, err
	}
	return msgID, nil
}

// WaitUntilDone blocks for the return message of a previous ExecNoWait.
func (c *Client) WaitUntilDone(msgID uint16) (*rcm.Packet, error) {
	if msgID == rcm.InvalidMsgID {
		return nil, rcm.ErrInvalidArgument
	}
	reply, err := c.waitFor(msgID)
	if err != nil {
		return nil, err
	}
	return reply, rcm.StatusToErr(reply.Status())
}

// ExecCmd is one-way: no reply on success; failures surface on the error
// queue (see CheckForError).
func (c *Client) ExecCmd(pkt *rcm.Packet) error {
	_, err := c.send(pkt, rcm.TypeCmd, c.errEp.Addr())
	return err
}

// ExecDpc: the server acknowledges before invoking the handler with an
// empty payload.
func (c *Client) ExecDpc(pkt *rcm.Packet) (*rcm.Packet, error) {
	msgID, err := c.send(pkt, rcm.TypeDPC, c.ep.Addr())
	if err != nil {
		return nil, err
	}
	reply, err := c.waitFor(msgID)
	if err != nil {
		return nil, err
	}
	if reply.Status() == rcm.StatusSymbolNotFound {
		return reply, rcm.ErrSymbolNotFound
	}
	return reply, rcm.StatusToErr(reply.Status())
}

// ExecAsync requires callback notification, which is not implemented.
func (*Client) ExecAsync(*rcm.Packet) error { return rcm.ErrNotImplemented }

// CheckForError drains one error-tagged packet from the error queue,
// non-blocking; (nil, nil) when the queue is empty.
func (c *Client) CheckForError() (*rcm.Packet, error) {
	frame, _, err := c.errEp.Recv(transport.NoBlock)
	if err != nil {
		if errors.Is(err, transport.ErrTimedOut) {
			return nil, nil
		}
		return nil, errors.Wrap(err, c.sname)
	}
	hdr, data, err := rcm.Decode(frame)
	if err != nil {
		return nil, err
	}
	pkt := &rcm.Packet{Hdr: hdr, Data: data}
	return pkt, rcm.StatusToErr(pkt.Status())
}

///////////////////////////
// symbol and job round-trips
///////////////////////////

func (c *Client) GetSymbolIndex(name string) (uint32, error) {
	if name == "" {
		return rcm.InvalidFxnIdx, rcm.ErrInvalidArgument
	}
	pkt, _ := c.Alloc(len(name) + 1)
	defer c.Free(pkt)
	copy(pkt.Data, name)
	pkt.Data[len(name)] = 0

	msgID, err := c.send(pkt, rcm.TypeSymIdx, c.ep.Addr())
	if err != nil {
		return rcm.InvalidFxnIdx, err
	}
	reply, err := c.waitFor(msgID)
	if err != nil {
		return rcm.InvalidFxnIdx, err
	}
	defer c.Free(reply)
	if err := rcm.StatusToErr(reply.Status()); err != nil {
		return rcm.InvalidFxnIdx, err
	}
	return reply.Word0(), nil
}

func (c *Client) AcquireJobID() (uint16, error) {
	reply, err := c.roundTrip(rcm.TypeJobAcq, 0)
	if err != nil {
		return rcm.JobIDDiscrete, err
	}
	defer c.Free(reply)
	return uint16(reply.Word0()), nil
}

func (c *Client) ReleaseJobID(jobID uint16) error {
	reply, err := c.roundTrip(rcm.TypeJobRel, uint32(jobID))
	if err != nil {
		return err
	}
	c.Free(reply)
	return nil
}

// AddSymbol is reserved protocol surface (SYM_ADD).
func (*Client) AddSymbol(string) error { return rcm.ErrNotImplemented }

func (c *Client) roundTrip(msgType uint16, word0 uint32) (*rcm.Packet, error) {
	pkt, _ := c.Alloc(rcm.MinDataSize)
	defer c.Free(pkt)
	pkt.SetWord0(word0)
	msgID, err := c.send(pkt, msgType, c.ep.Addr())
	if err != nil {
		return nil, err
	}
	reply, err := c.waitFor(msgID)
	if err != nil {
		return nil, err
	}
	if err := rcm.StatusToErr(reply.Status()); err != nil {
		c.Free(reply)
		return nil, err
	}
	return reply, nil
}

//////////
// send //
//////////

func (c *Client) send(pkt *rcm.Packet, msgType uint16, replyAddr transport.Addr) (uint16, error) {
	pkt.SetVersion(rcm.ProtoVersion)
	pkt.SetType(msgType)

	c.idMtx.Lock()
	pkt.MsgID = rcm.GenMsgID(&c.lastMsgID)
	c.idMtx.Unlock()

	buf := c.mm.Alloc(rcm.HdrSize + len(pkt.Data))
	frame := rcm.Encode(&pkt.Hdr, pkt.Data, buf)
	err := c.net.Send(c.srvAddr, replyAddr, frame)
	c.mm.Free(buf)
	if err != nil {
		return rcm.InvalidMsgID, errors.Wrapf(err, "%s: send %s", c.sname, pkt)
	}
	return pkt.MsgID, nil
}
