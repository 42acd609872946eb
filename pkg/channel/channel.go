// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel implements the per-delivery-method state machines between
// two peers: simple, sequenced, reliable-unordered and reliable-ordered.
//
// A channel owns its queued packets. Outgoing packets handed to AddToQueue
// and incoming packets handed to ProcessPacket belong to the channel until
// they are either recycled or popped through PopDelivered, which transfers
// ownership back to the caller.
package channel

import (
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// DefaultWindowSize is the reliable send/receive window in packets.
const DefaultWindowSize = 64

// Host is the channel's view of its peer. Channels keep a Host reference
// instead of a concrete peer to break the peer/channel cycle.
type Host interface {
	// SendRaw writes a packet to the wire path. Ownership stays with the
	// caller; the packet's bytes are copied out before SendRaw returns.
	SendRaw(p *packet.Packet)

	// Pool returns the packet pool packets were drawn from.
	Pool() *packet.Pool

	// ResendDelay returns the retransmission delay, derived from the
	// peer's averaged round-trip time.
	ResendDelay() time.Duration

	// NoteRetransmit is called once per retransmitted packet, for the
	// peer's loss statistics.
	NoteRetransmit()
}

// Channel is the contract every delivery method implements.
type Channel interface {
	// AddToQueue enqueues an already framed outgoing payload packet.
	AddToQueue(p *packet.Packet)

	// SendNextPackets pops due packets into the wire path. It may emit
	// multiple packets per call, including retransmissions and ACKs.
	SendNextPackets(now time.Time)

	// ProcessPacket consumes an incoming packet and reports whether new
	// payloads became available through PopDelivered.
	ProcessPacket(p *packet.Packet) bool

	// ProcessAck consumes an incoming ACK packet for this channel.
	ProcessAck(p *packet.Packet)

	// PopDelivered dequeues the next surfaced payload, nil if none.
	// Ownership of the returned packet moves to the caller.
	PopDelivered() *packet.Packet

	// Teardown recycles every packet still held by the channel.
	Teardown()
}

// deliveredQueue is the FIFO of payloads ready for the application.
type deliveredQueue struct {
	packets []*packet.Packet
}

func (q *deliveredQueue) push(p *packet.Packet) {
	q.packets = append(q.packets, p)
}

func (q *deliveredQueue) pop() *packet.Packet {
	if len(q.packets) == 0 {
		return nil
	}
	p := q.packets[0]
	q.packets = q.packets[1:]
	return p
}

func (q *deliveredQueue) teardown(pool *packet.Pool) {
	for _, p := range q.packets {
		pool.Recycle(p)
	}
	q.packets = nil
}
