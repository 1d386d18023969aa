// Package resmgr implements the client side of the off-device resource
// broker: typed request/acknowledgement round-trips with timeouts and
// errno translation.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package resmgr

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/transport"
	pkgerrors "github.com/pkg/errors"
)

const (
	// well-known broker endpoint on the peer
	ServerPort = uint32(100)

	DefaultTimeout = 500 * time.Millisecond

	maxMsgSize = 84
)

// request types
const (
	reqConn = uint32(iota)
	reqAlloc
	reqFree
	reqDisconn
	reqSetConstraints
	reqRelConstraints
)

// resource types
const (
	TypeGPTimer = uint32(iota)
	TypeIVAHD
	TypeIVASeq0
	TypeIVASeq1
	TypeL3Bus
	TypeISS
	TypeFDIF
	TypeSL2IF
	TypeAuxClk
	TypeRegulator
	TypeGPIO
	TypeSDMA
	TypeIPU
	TypeDSP
)

// constraint actions
const (
	ConstraintFreq      = uint32(0x1)
	ConstraintLatency   = uint32(0x2)
	ConstraintBandwidth = uint32(0x4)
)

// broker-side errno values, translated to domain errors
const (
	enoent = 2
	enomem = 12
	ebusy  = 16
	einval = 22
)

var (
	ErrNoResource  = errors.New("resmgr: no such resource")
	ErrOutOfMemory = errors.New("resmgr: broker out of memory")
	ErrBusy        = errors.New("resmgr: resource busy")
	ErrInvalidArgs = errors.New("resmgr: invalid arguments")
)

const (
	reqHdrSize = 12 // {u32 res_type; u32 req_type; u32 res_handle}
	ackHdrSize = 16 // {u32 status; u32 res_type; u32 res_handle; u32 base}
)

type (
	// ResParams marshals a typed resource parameter block in and out of
	// the request/ack trailer.
	ResParams interface {
		PackedLen() int
		Pack(buf []byte)
		Unpack(buf []byte) error
	}

	Ack struct {
		Status    uint32
		ResType   uint32
		ResHandle uint32
		Base      uint32
	}

	Client struct {
		net     transport.Network
		ep      transport.Endpoint
		broker  transport.Addr
		timeout time.Duration
	}
)

// Connect opens the broker session. A zero timeout selects the default;
// pass transport.Forever to wait indefinitely on every round-trip.
func Connect(net transport.Network, broker transport.Addr, timeout time.Duration) (*Client, error) {
	if net == nil {
		return nil, rcm.ErrInvalidArgument
	}
	ep, err := net.OpenEndpoint()
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &Client{net: net, ep: ep, broker: broker, timeout: timeout}
	if _, _, err := c.roundTrip(0, reqConn, 0, nil); err != nil {
		ep.Close()
		return nil, err
	}
	return c, nil
}

// Disconnect tears the session down; the broker does not acknowledge.
func (c *Client) Disconnect() error {
	err := c.sendReq(0, reqDisconn, 0, nil)
	c.ep.Close()
	return err
}

// Request allocates a resource of the given type; params (when the type
// takes any) carries the requested configuration in and the granted
// configuration out.
func (c *Client) Request(resType uint32, params ResParams) (resHandle uint32, err error) {
	if params == nil && resLen(resType) != 0 {
		return 0, ErrInvalidArgs
	}
	ack, trailer, err := c.roundTrip(resType, reqAlloc, 0, params)
	if err != nil {
		return 0, err
	}
	if params != nil {
		if err := params.Unpack(trailer); err != nil {
			return 0, err
		}
	}
	return ack.ResHandle, nil
}

// Release frees a previously granted resource.
func (c *Client) Release(resType, resHandle uint32) error {
	_, _, err := c.roundTrip(resType, reqFree, resHandle, nil)
	return err
}

// SetConstraints asks the broker to apply frequency/latency/bandwidth
// constraints to a granted resource.
func (c *Client) SetConstraints(resHandle uint32, data *ConstraintData) error {
	_, _, err := c.roundTrip(0, reqSetConstraints, resHandle, data)
	return err
}

func (c *Client) RelConstraints(resHandle uint32, data *ConstraintData) error {
	_, _, err := c.roundTrip(0, reqRelConstraints, resHandle, data)
	return err
}

//
// wire
//

func (c *Client) sendReq(resType, reqType, resHandle uint32, params ResParams) error {
	buf := make([]byte, maxMsgSize)
	binary.LittleEndian.PutUint32(buf[0:], resType)
	binary.LittleEndian.PutUint32(buf[4:], reqType)
	binary.LittleEndian.PutUint32(buf[8:], resHandle)
	n := reqHdrSize
	if params != nil {
		params.Pack(buf[n:])
		n += params.PackedLen()
	}
	err := c.net.Send(c.broker, c.ep.Addr(), buf[:n])
	return pkgerrors.Wrap(err, "resmgr: send")
}

func (c *Client) roundTrip(resType, reqType, resHandle uint32, params ResParams) (ack Ack, trailer []byte, err error) {
	if err = c.sendReq(resType, reqType, resHandle, params); err != nil {
		return
	}
	frame, _, err := c.ep.Recv(c.timeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimedOut) {
			err = rcm.ErrTimeout
		} else {
			err = pkgerrors.Wrap(err, "resmgr: recv")
		}
		return
	}
	if len(frame) < ackHdrSize {
		err = rcm.NewErrTruncated(len(frame), ackHdrSize)
		return
	}
	ack.Status = binary.LittleEndian.Uint32(frame[0:])
	ack.ResType = binary.LittleEndian.Uint32(frame[4:])
	ack.ResHandle = binary.LittleEndian.Uint32(frame[8:])
	ack.Base = binary.LittleEndian.Uint32(frame[12:])
	trailer = frame[ackHdrSize:]
	err = translateError(int32(ack.Status))
	return
}

// negative errno from the broker into domain errors
func translateError(kstatus int32) error {
	switch -kstatus {
	case 0:
		return nil
	case enoent:
		return ErrNoResource
	case enomem:
		return ErrOutOfMemory
	case ebusy:
		return ErrBusy
	case einval:
		return ErrInvalidArgs
	}
	return rcm.ErrServerError
}

func resLen(resType uint32) int {
	switch resType {
	case TypeGPTimer:
		return gptLen
	case TypeAuxClk:
		return auxClkLen
	case TypeRegulator:
		return regulatorLen
	case TypeGPIO:
		return gpioLen
	case TypeSDMA:
		return sdmaLen
	}
	return 0
}
