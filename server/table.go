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

type (
	// MsgFxn is a plain message handler; its signed return lands in the
	// packet's result field (negative means MSG_FXN_ERR on the wire).
	MsgFxn func(data []byte) int32

	// CreateFxn is the static slot-0 variant: it receives the server
	// handle so construction functions can retain it for callbacks.
	CreateFxn func(srv *Server, data []byte) int32

	// FxnDesc declares one static-table entry at server create. Exactly
	// one of Fxn/Create is set; Create is only meaningful at slot 0.
	FxnDesc struct {
		Name   string
		Fxn    MsgFxn
		Create CreateFxn
	}

	fxnSlot struct {
		name   string
		fxn    MsgFxn
		create CreateFxn
		key    uint16
	}
)

func (s *fxnSlot) empty() bool { return s.fxn == nil && s.create == nil }

// build sub-table 0 from the caller-provided array (server create)
func (srv *Server) addStatic(fxns []FxnDesc) {
	static := make([]fxnSlot, len(fxns))
	for i := range fxns {
		fd := &fxns[i]
		static[i] = fxnSlot{name: fd.Name, fxn: fd.Fxn, create: fd.Create}
		debug.Assert(i == 0 || fd.Create == nil, fd.Name)
	}
	srv.tables[0] = static
}

// AddSymbol installs a dynamic handler and returns its encoded index.
func (srv *Server) AddSymbol(name string, fxn MsgFxn) (fxnIdx uint32, err error) {
	if name == "" || fxn == nil {
		return rcm.InvalidFxnIdx, rcm.ErrInvalidArgument
	}
	srv.mtx.Lock()
	defer srv.mtx.Unlock()

	// scan sub-tables 1..8 for an empty slot
	for i := 1; i < rcm.MaxTables; i++ {
		tab := srv.tables[i]
		if tab == nil {
			continue
		}
		for j := range tab {
			if tab[j].empty() {
				return srv.fill(i, j, name, fxn), nil
			}
		}
	}
	// no free slot: allocate the next sub-table
	for i := 1; i < rcm.MaxTables; i++ {
		if srv.tables[i] == nil {
			srv.tables[i] = make([]fxnSlot, rcm.DynTableLen(i))
			return srv.fill(i, 0, name, fxn), nil
		}
	}
	return rcm.InvalidFxnIdx, rcm.ErrSymbolTableFull
}

// under srv.mtx
func (srv *Server) fill(i, j int, name string, fxn MsgFxn) uint32 {
	slot := &srv.tables[i][j]
	slot.name, slot.fxn, slot.create = name, fxn, nil
	slot.key = srv.nextKey()
	return rcm.DynIdx(slot.key, i, j)
}

// under srv.mtx; the key is an anti-ABA tag: monotone decreasing,
// wraps at the reset value, never 0 or 1
func (srv *Server) nextKey() uint16 {
	if srv.key <= 2 {
		srv.key = rcm.KeyResetValue
	} else {
		srv.key--
	}
	return srv.key
}

// RemoveSymbol clears a dynamic slot; static symbols cannot be removed.
func (srv *Server) RemoveSymbol(name string) error {
	srv.mtx.Lock()
	defer srv.mtx.Unlock()

	fxnIdx, err := srv.symbolIndex(name)
	if err != nil {
		return err
	}
	if rcm.IsStaticIdx(fxnIdx) {
		return rcm.ErrSymbolStatic
	}
	_, i, j := rcm.DynParts(fxnIdx)
	slot := &srv.tables[i][j]
	slot.name, slot.fxn, slot.create, slot.key = "", nil, nil, 0
	return nil
}

// under srv.mtx: linear scan of populated slots
func (srv *Server) symbolIndex(name string) (fxnIdx uint32, err error) {
	for i := range rcm.MaxTables {
		tab := srv.tables[i]
		for j := range tab {
			slot := &tab[j]
			if slot.empty() || slot.name != name {
				continue
			}
			if i == 0 {
				return rcm.StaticIdx(uint16(j)), nil
			}
			return rcm.DynIdx(slot.key, i, j), nil
		}
	}
	return rcm.InvalidFxnIdx, rcm.ErrSymbolNotFound
}

// getFxn decodes and re-verifies a function index. A dynamic index whose
// embedded key no longer matches the slot's live key fails InvalidFxn.
func (srv *Server) getFxn(fxnIdx uint32) (fxn MsgFxn, create CreateFxn, err error) {
	srv.mtx.Lock()
	defer srv.mtx.Unlock()

	if rcm.IsStaticIdx(fxnIdx) {
		j := rcm.StaticOffset(fxnIdx)
		static := srv.tables[0]
		if j >= len(static) {
			return nil, nil, rcm.ErrInvalidFxnIdx
		}
		if j == 0 {
			return nil, static[0].create, nil
		}
		return static[j].fxn, nil, nil
	}

	key, i, j := rcm.DynParts(fxnIdx)
	if i < 1 || i >= rcm.MaxTables || srv.tables[i] == nil || j >= len(srv.tables[i]) {
		return nil, nil, rcm.ErrInvalidFxnIdx
	}
	slot := &srv.tables[i][j]
	if slot.empty() || key != slot.key {
		return nil, nil, rcm.ErrInvalidFxnIdx
	}
	return slot.fxn, nil, nil
}
