// Package client implements the RCM client: request marshalling and the
// mailbox/mailman return-message demultiplexer.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/rcm/cmn/cos"
	"github.com/NVIDIA/rcm/cmn/debug"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	"github.com/pkg/errors"
)

// The mailbox/mailman protocol: any number of caller threads send
// concurrently; at any instant at most one of them (the mailman) holds the
// reader role and drains the transport on behalf of all waiters. A waiter
// whose reply arrives is handed the packet and woken; when the mailman's
// own reply arrives it first nominates an idle waiter as the next mailman,
// then returns.

// roleToken is a try-lockable mutex used as a non-blocking role election.
// It does NOT protect the queue's contents (mailboxLock does); it only
// elects the single transport reader.
type roleToken struct {
	mu      sync.Mutex
	holders atomic.Int32
	// audit counters
	acquires atomic.Int64
}

func (t *roleToken) tryAcquire() bool {
	if !t.mu.TryLock() {
		return false
	}
	n := t.holders.Add(1)
	debug.Assert(n == 1, "single-reader violation: ", n)
	t.acquires.Add(1)
	return true
}

func (t *roleToken) release() {
	n := t.holders.Add(-1)
	debug.Assert(n == 0, "single-reader violation: ", n)
	t.mu.Unlock()
}

// waitFor blocks until the reply carrying msgID arrives. Called with no
// locks held; returns with no locks held.
func (c *Client) waitFor(msgID uint16) (*rcm.Packet, error) {
	for {
		c.mailboxLock.Lock()

		// the mail may already be in
		if pkt := c.takeMail(msgID); pkt != nil {
			c.mailboxLock.Unlock()
			return pkt, nil
		}

		if c.queueLock.tryAcquire() {
			return c.mailman(msgID)
		}

		// contended: park as a recipient and wait to be served (or
		// nominated as the next mailman)
		r := &recipient{msgID: msgID, event: cos.NewEvent()}
		c.recipients = append(c.recipients, r)
		c.mailboxLock.Unlock()

		r.event.Wait()

		c.mailboxLock.Lock()
		pkt := r.slot
		c.removeRecipient(r)
		c.mailboxLock.Unlock()
		if pkt != nil {
			return pkt, nil
		}
		// nominated without delivery: loop and try for the reader role
	}
}

// mailman drains the transport until its own reply shows up. Entered with
// mailboxLock held and the role token acquired.
func (c *Client) mailman(msgID uint16) (*rcm.Packet, error) {
	for {
		// poll first; only block with the mailbox unlocked
		frame, _, err := c.ep.Recv(transport.NoBlock)
		if err != nil {
			c.mailboxLock.Unlock()
			frame, _, err = c.ep.Recv(transport.Forever)
			c.mailboxLock.Lock()
			if err != nil {
				return nil, c.mailmanErr(err)
			}
		}

		for frame != nil {
			hdr, data, derr := rcm.Decode(frame)
			if derr != nil {
				// corrupt frame: drop and keep reading
				c.dropFrame(derr)
			} else {
				pkt := &rcm.Packet{Hdr: hdr, Data: data}
				if hdr.MsgID == msgID {
					// before returning with our own mail, hand off the
					// reader role so the next request has a reader
					c.nominate()
					c.queueLock.release()
					c.mailboxLock.Unlock()
					return pkt, nil
				}
				if r := c.findRecipient(hdr.MsgID); r != nil {
					r.slot = pkt
					r.event.Post()
				} else {
					c.newMail = append(c.newMail, pkt)
				}
			}
			frame, _, err = c.ep.Recv(transport.NoBlock)
			if err != nil {
				frame = nil
			}
		}
	}
}

// under mailboxLock, role held: wake one idle waiter to take over reading
func (c *Client) nominate() {
	for _, r := range c.recipients {
		if r.slot == nil {
			r.event.Post()
			return
		}
	}
}

// under mailboxLock, role held: teardown or transport failure
func (c *Client) mailmanErr(err error) error {
	c.nominate()
	c.queueLock.release()
	c.mailboxLock.Unlock()
	if errors.Is(err, transport.ErrUnblocked) || errors.Is(err, transport.ErrClosed) {
		return rcm.ErrUnblocked
	}
	return errors.Wrap(err, c.sname)
}

func (c *Client) dropFrame(err error) {
	// transport corruption is fatal in spirit; surface loudly
	debug.AssertNoErr(err)
}

// under mailboxLock
func (c *Client) takeMail(msgID uint16) *rcm.Packet {
	for i, pkt := range c.newMail {
		if pkt.MsgID == msgID {
			l := len(c.newMail)
			c.newMail[i] = c.newMail[l-1]
			c.newMail[l-1] = nil
			c.newMail = c.newMail[:l-1]
			return pkt
		}
	}
	return nil
}

// under mailboxLock
func (c *Client) findRecipient(msgID uint16) *recipient {
	for _, r := range c.recipients {
		if r.msgID == msgID && r.slot == nil {
			return r
		}
	}
	return nil
}

// under mailboxLock
func (c *Client) removeRecipient(r *recipient) {
	for i, ri := range c.recipients {
		if ri == r {
			l := len(c.recipients)
			c.recipients[i] = c.recipients[l-1]
			c.recipients[l-1] = nil
			c.recipients = c.recipients[:l-1]
			return
		}
	}
}
