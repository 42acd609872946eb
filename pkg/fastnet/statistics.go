// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"sync"
	"time"
)

// Statistics are the per-peer traffic counters. All writes happen on the
// tick thread; snapshot (and through it Peer.Statistics) may be called from
// other goroutines, for example by the statistics HTTP endpoint.
type Statistics struct {
	mutex sync.Mutex

	packetsSent     uint64
	packetsReceived uint64
	bytesSent       uint64
	bytesReceived   uint64
	retransmissions uint64

	rtt    time.Duration
	avgRtt time.Duration
	mtu    int
}

// StatisticsSnapshot is one consistent copy of a peer's counters.
type StatisticsSnapshot struct {
	PacketsSent     uint64 `json:"packets-sent"`
	PacketsReceived uint64 `json:"packets-received"`
	BytesSent       uint64 `json:"bytes-sent"`
	BytesReceived   uint64 `json:"bytes-received"`
	Retransmissions uint64 `json:"retransmissions"`

	Rtt    time.Duration `json:"rtt"`
	AvgRtt time.Duration `json:"avg-rtt"`
	Mtu    int           `json:"mtu"`
}

func (s *Statistics) addSent(bytes int) {
	s.mutex.Lock()
	s.packetsSent++
	s.bytesSent += uint64(bytes)
	s.mutex.Unlock()
}

func (s *Statistics) addReceived(bytes int) {
	s.mutex.Lock()
	s.packetsReceived++
	s.bytesReceived += uint64(bytes)
	s.mutex.Unlock()
}

func (s *Statistics) addRetransmission() {
	s.mutex.Lock()
	s.retransmissions++
	s.mutex.Unlock()
}

func (s *Statistics) setRtt(rtt, avgRtt time.Duration) {
	s.mutex.Lock()
	s.rtt = rtt
	s.avgRtt = avgRtt
	s.mutex.Unlock()
}

func (s *Statistics) setMtu(mtu int) {
	s.mutex.Lock()
	s.mtu = mtu
	s.mutex.Unlock()
}

func (s *Statistics) snapshot() StatisticsSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return StatisticsSnapshot{
		PacketsSent:     s.packetsSent,
		PacketsReceived: s.packetsReceived,
		BytesSent:       s.bytesSent,
		BytesReceived:   s.bytesReceived,
		Retransmissions: s.retransmissions,
		Rtt:             s.rtt,
		AvgRtt:          s.avgRtt,
		Mtu:             s.mtu,
	}
}
