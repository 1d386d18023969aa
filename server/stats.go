// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"strconv"

	"github.com/NVIDIA/rcm/cmn/mono"
	"github.com/prometheus/client_golang/prometheus"
)

// ambient counters; with a nil Registerer the metrics stay process-local
type stats struct {
	rx     *prometheus.CounterVec // packets received, by descriptor type
	tx     *prometheus.CounterVec // replies sent, by status
	queued prometheus.Gauge       // packets sitting on pool ready queues
	execN  prometheus.Counter     // handler invocations
	execNs prometheus.Counter     // cumulative handler time
}

var descTypeText = map[uint16]string{
	0x1: "msg", 0x2: "dpc", 0x3: "sym_add", 0x4: "sym_idx",
	0x5: "cmd", 0x6: "job_acq", 0x7: "job_rel",
}

func newStats(server string, reg prometheus.Registerer) *stats {
	lbl := prometheus.Labels{"server": server}
	s := &stats{
		rx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcm_server_rx_packets_total", Help: "packets received by descriptor type", ConstLabels: lbl,
		}, []string{"type"}),
		tx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcm_server_tx_replies_total", Help: "replies sent by status code", ConstLabels: lbl,
		}, []string{"status"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rcm_server_ready_queue_depth", Help: "packets on pool ready queues", ConstLabels: lbl,
		}),
		execN: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcm_server_exec_total", Help: "handler invocations", ConstLabels: lbl,
		}),
		execNs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcm_server_exec_ns_total", Help: "cumulative handler execution time (ns)", ConstLabels: lbl,
		}),
	}
	if reg != nil {
		reg.MustRegister(s.rx, s.tx, s.queued, s.execN, s.execNs)
	}
	return s
}

func (s *stats) exec(started int64) {
	s.execN.Inc()
	s.execNs.Add(float64(mono.NanoTime() - started))
}

func (s *stats) recv(msgType uint16) {
	t, ok := descTypeText[msgType]
	if !ok {
		t = strconv.Itoa(int(msgType))
	}
	s.rx.WithLabelValues(t).Inc()
}

func (s *stats) reply(status uint16) {
	s.tx.WithLabelValues(strconv.Itoa(int(status))).Inc()
}
