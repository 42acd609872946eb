// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fastnet

import (
	"net"
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/netdata"
	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// DisconnectReason tells the listener why a peer went away.
type DisconnectReason uint8

const (
	// RemoteConnectionClose is a Disconnect received from the remote.
	RemoteConnectionClose DisconnectReason = iota

	// SocketSendError is a failed send on the local socket.
	SocketSendError

	// Timeout is the silence of the remote beyond DisconnectTimeout.
	Timeout

	// DisconnectPeerCalled is a local DisconnectPeer or DisconnectAll.
	DisconnectPeerCalled

	// ConnectionFailed is an exhausted handshake.
	ConnectionFailed
)

func (r DisconnectReason) String() string {
	names := []string{
		"RemoteConnectionClose", "SocketSendError", "Timeout",
		"DisconnectPeerCalled", "ConnectionFailed",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// DisconnectInfo accompanies a disconnect event. AdditionalData carries the
// remote's optional user payload and may be nil.
type DisconnectInfo struct {
	Reason         DisconnectReason
	AdditionalData *netdata.Reader
}

// UnconnectedMessageType tags data received outside a connection.
type UnconnectedMessageType uint8

const (
	BasicMessage UnconnectedMessageType = iota
	DiscoveryRequestMessage
	DiscoveryResponseMessage
)

// EventListener receives all callbacks. Every method is invoked on the
// thread calling Manager.Run, during the event drain at the end of a tick.
// Readers handed to the listener alias pooled packet memory and must not be
// retained beyond the callback.
type EventListener interface {
	// OnPeerConnected reports a completed handshake, on both sides.
	OnPeerConnected(peer *Peer)

	// OnPeerDisconnected reports a peer leaving the table.
	OnPeerDisconnected(peer *Peer, info DisconnectInfo)

	// OnNetworkError reports a surfaced socket error.
	OnNetworkError(endpoint *net.UDPAddr, err error)

	// OnNetworkReceive hands over a reassembled payload.
	OnNetworkReceive(peer *Peer, reader *netdata.Reader, method packet.DeliveryMethod, channelNumber uint8)

	// OnNetworkReceiveUnconnected hands over discovery and unconnected
	// messages.
	OnNetworkReceiveUnconnected(endpoint *net.UDPAddr, reader *netdata.Reader, kind UnconnectedMessageType)

	// OnNetworkLatencyUpdate reports a new round-trip measurement.
	OnNetworkLatencyUpdate(peer *Peer, latency time.Duration)

	// OnConnectionRequest asks the application to Accept or Reject an
	// incoming handshake. Ignoring the request leaves the remote retrying
	// until its attempts are exhausted.
	OnConnectionRequest(request *ConnectionRequest)
}

type eventKind uint8

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventReceive
	eventReceiveUnconnected
	eventError
	eventLatencyUpdated
	eventConnectionRequest
)

// netEvent is one pending callback. Records are pooled by the eventQueue;
// a packet attached to a record is owned by it until the drain recycles it.
type netEvent struct {
	kind eventKind

	peer     *Peer
	endpoint *net.UDPAddr
	p        *packet.Packet
	method   packet.DeliveryMethod
	channel  uint8

	reason         DisconnectReason
	additionalData []byte

	err     error
	latency time.Duration
	msgKind UnconnectedMessageType
	request *ConnectionRequest
}

// eventQueue buffers pending callbacks with a free list of records. Tick
// thread only.
type eventQueue struct {
	pool    *packet.Pool
	pending []*netEvent
	free    []*netEvent
}

func newEventQueue(pool *packet.Pool) *eventQueue {
	return &eventQueue{pool: pool}
}

func (q *eventQueue) get() *netEvent {
	if n := len(q.free); n > 0 {
		ev := q.free[n-1]
		q.free = q.free[:n-1]
		return ev
	}
	return new(netEvent)
}

func (q *eventQueue) push(ev *netEvent) {
	q.pending = append(q.pending, ev)
}

// drain dispatches all pending events in order. Packets owned by dispatched
// events return to the pool, records to the free list.
func (q *eventQueue) drain(listener EventListener) {
	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending = q.pending[1:]

		if listener != nil {
			q.dispatch(listener, ev)
		}

		if ev.p != nil {
			q.pool.Recycle(ev.p)
		}
		*ev = netEvent{}
		q.free = append(q.free, ev)
	}
}

func (q *eventQueue) dispatch(listener EventListener, ev *netEvent) {
	switch ev.kind {
	case eventConnect:
		listener.OnPeerConnected(ev.peer)

	case eventDisconnect:
		info := DisconnectInfo{Reason: ev.reason}
		if ev.additionalData != nil {
			info.AdditionalData = netdata.NewReader(ev.additionalData)
		}
		listener.OnPeerDisconnected(ev.peer, info)

	case eventReceive:
		listener.OnNetworkReceive(ev.peer, netdata.NewReader(ev.p.Data()), ev.method, ev.channel)

	case eventReceiveUnconnected:
		listener.OnNetworkReceiveUnconnected(ev.endpoint, netdata.NewReader(ev.p.Data()), ev.msgKind)

	case eventError:
		listener.OnNetworkError(ev.endpoint, ev.err)

	case eventLatencyUpdated:
		listener.OnNetworkLatencyUpdate(ev.peer, ev.latency)

	case eventConnectionRequest:
		listener.OnConnectionRequest(ev.request)
	}
}
