// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"net"
)

// peerTable maps remote endpoints to peers, bounded by the connection limit.
// Insertion order is kept for deterministic iteration. Tick thread only.
type peerTable struct {
	capacity int
	byAddr   map[string]*Peer
	ordered  []*Peer
}

func newPeerTable(capacity int) *peerTable {
	return &peerTable{
		capacity: capacity,
		byAddr:   make(map[string]*Peer),
	}
}

func (t *peerTable) get(addr *net.UDPAddr) *Peer {
	return t.byAddr[addr.String()]
}

// add inserts a peer, refusing beyond capacity.
func (t *peerTable) add(peer *Peer) bool {
	if len(t.ordered) >= t.capacity {
		return false
	}

	key := peer.endpoint.String()
	if _, exists := t.byAddr[key]; exists {
		return false
	}

	t.byAddr[key] = peer
	t.ordered = append(t.ordered, peer)
	return true
}

func (t *peerTable) remove(peer *Peer) {
	key := peer.endpoint.String()
	if t.byAddr[key] != peer {
		return
	}
	delete(t.byAddr, key)

	for i, p := range t.ordered {
		if p == peer {
			t.ordered = append(t.ordered[:i], t.ordered[i+1:]...)
			break
		}
	}
}

func (t *peerTable) count() int {
	return len(t.ordered)
}

func (t *peerTable) full() bool {
	return len(t.ordered) >= t.capacity
}

// peers returns a copy of the current peer list, safe against removal while
// iterating.
func (t *peerTable) peers() []*Peer {
	return append([]*Peer{}, t.ordered...)
}

func (t *peerTable) first() *Peer {
	if len(t.ordered) == 0 {
		return nil
	}
	return t.ordered[0]
}
