// Package svcmgr implements the service manager: a well-known endpoint
// that creates and destroys RCM server instances on demand by service name
// and publishes them upstream via name announcements.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package svcmgr

import (
	"errors"
	"sync"

	"github.com/NVIDIA/rcm/cmn/cos"
	"github.com/NVIDIA/rcm/cmn/nlog"
	"github.com/NVIDIA/rcm/rcm"
	"github.com/NVIDIA/rcm/server"
	"github.com/NVIDIA/rcm/transport"
	"golang.org/x/sync/errgroup"
)

const (
	// hard-coded to match the host side
	Port = uint32(60)

	// announced on start
	ServiceName = "rpmsg-omx"

	dfltMaxTuples = 256

	freeTupleKey = uint32(0xffffffff)
)

type (
	// ServiceDef binds a service name to the parameters of the server
	// instantiated on connect.
	ServiceDef struct {
		Name   string
		Config *server.Config
		Fxns   []server.FxnDesc
	}
	Config struct {
		// concurrent service instances; configuration, not protocol
		MaxTuples int
	}
	// (endpoint -> live server); free slots carry the sentinel key
	tuple struct {
		key uint32
		srv *server.Server
	}
	Manager struct {
		net    transport.Network
		ep     transport.Endpoint
		sname  string
		mu     sync.Mutex
		defs   map[string]*ServiceDef
		tuples []tuple
		stopCh *cos.StopCh
		wg     sync.WaitGroup
	}
)

func New(net transport.Network, cfg *Config) (*Manager, error) {
	if net == nil {
		return nil, rcm.ErrInvalidArgument
	}
	maxTuples := dfltMaxTuples
	if cfg != nil && cfg.MaxTuples > 0 {
		maxTuples = cfg.MaxTuples
	}
	ep, err := net.OpenEndpointAt(Port)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		net:    net,
		ep:     ep,
		sname:  "svcmgr[" + cos.GenUUID() + "]",
		defs:   make(map[string]*ServiceDef, 8),
		tuples: make([]tuple, maxTuples),
		stopCh: cos.NewStopCh(),
	}
	for i := range m.tuples {
		m.tuples[i].key = freeTupleKey
	}
	return m, nil
}

// Register adds a service type; connect requests for name will instantiate
// a server with the definition's parameters.
func (m *Manager) Register(def *ServiceDef) error {
	if def == nil || def.Name == "" || len(def.Name) >= MaxNameLen || def.Config == nil {
		return rcm.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.Name]; ok {
		return rcm.ErrInvalidArgument
	}
	m.defs[def.Name] = def
	nlog.Infof("%s: registered service type %q", m.sname, def.Name)
	return nil
}

func (m *Manager) Start() error {
	if err := m.net.Announce(ServiceName, Port); err != nil {
		return err
	}
	m.wg.Add(1)
	go m.run()
	return nil
}

func (m *Manager) Addr() transport.Addr { return m.ep.Addr() }

// Shutdown stops the control loop and destroys every live instance.
func (m *Manager) Shutdown() {
	m.stopCh.Close()
	m.ep.Unblock()
	m.wg.Wait()

	m.mu.Lock()
	var live []*server.Server
	for i := range m.tuples {
		if m.tuples[i].key != freeTupleKey {
			live = append(live, m.tuples[i].srv)
			m.tuples[i] = tuple{key: freeTupleKey}
		}
	}
	m.mu.Unlock()

	eg := &errgroup.Group{}
	for _, srv := range live {
		eg.Go(func() error { srv.Delete(); return nil })
	}
	eg.Wait()

	m.net.Withdraw(ServiceName, Port)
	m.ep.Close()
	nlog.Infof("%s: terminated (%d instance%s destroyed)", m.sname, len(live), cos.Plural(len(live)))
}

//////////////////
// control loop //
//////////////////

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		frame, from, err := m.ep.Recv(transport.Forever)
		if err != nil {
			if errors.Is(err, transport.ErrUnblocked) || errors.Is(err, transport.ErrClosed) {
				if m.stopCh.Stopped() {
					return
				}
				continue
			}
			nlog.Errorln(m.sname, "recv:", err)
			continue
		}
		hdr, data, err := unpackCtrl(frame)
		if err != nil {
			nlog.Warningln(m.sname, "dropping frame:", err)
			continue
		}
		switch hdr.Type {
		case MsgConnReq:
			m.connect(from, data)
		case MsgDiscReq:
			m.disconnect(data)
		case MsgPing:
			m.reply(from, MsgPong, data)
		default:
			m.reply(from, MsgConnRsp, packConnRsp(StatusNotSupp, 0))
		}
	}
}

func (m *Manager) connect(from transport.Addr, data []byte) {
	if len(data) > connNameLen {
		data = data[:connNameLen]
	}
	name := cstring(data)

	m.mu.Lock()
	def, ok := m.defs[name]
	m.mu.Unlock()
	if !ok {
		nlog.Warningf("%s: connect %q: unknown service", m.sname, name)
		m.reply(from, MsgConnRsp, packConnRsp(StatusNotSupp, 0))
		return
	}

	srv, err := server.New(&server.Args{Net: m.net, Config: def.Config, Fxns: def.Fxns})
	if err != nil {
		nlog.Errorf("%s: connect %q: %v", m.sname, name, err)
		m.reply(from, MsgConnRsp, packConnRsp(StatusFail, 0))
		return
	}
	if err := srv.Start(); err != nil {
		srv.Delete()
		m.reply(from, MsgConnRsp, packConnRsp(StatusFail, 0))
		return
	}

	port := srv.Addr().Port
	if !m.store(port, srv) {
		nlog.Errorf("%s: connect %q: tuple table full", m.sname, name)
		srv.Delete()
		m.reply(from, MsgConnRsp, packConnRsp(StatusNoMem, 0))
		return
	}
	nlog.Infof("%s: created %q instance at port %d", m.sname, name, port)
	m.reply(from, MsgConnRsp, packConnRsp(StatusSuccess, port))
}

func (m *Manager) disconnect(data []byte) {
	if len(data) < 4 {
		return
	}
	port := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	srv := m.remove(port)
	if srv == nil {
		nlog.Warningf("%s: disconnect: no instance at port %d", m.sname, port)
		return
	}
	srv.Delete()
	nlog.Infof("%s: destroyed instance at port %d", m.sname, port)
	// no reply, matching the peer driver's expectations
}

func (m *Manager) store(port uint32, srv *server.Server) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tuples {
		if m.tuples[i].key == freeTupleKey {
			m.tuples[i] = tuple{key: port, srv: srv}
			return true
		}
	}
	return false
}

func (m *Manager) remove(port uint32) *server.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tuples {
		if m.tuples[i].key == port {
			srv := m.tuples[i].srv
			m.tuples[i] = tuple{key: freeTupleKey}
			return srv
		}
	}
	return nil
}

func (m *Manager) reply(to transport.Addr, msgType uint32, data []byte) {
	buf := make([]byte, hdrSize+len(data))
	if err := m.net.Send(to, m.ep.Addr(), packCtrl(msgType, 0, data, buf)); err != nil {
		nlog.Errorf("%s: reply to %s failed: %v", m.sname, to, err)
	}
}
