// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// SequencedChannel stamps outgoing packets with a monotonically increasing
// sequence number and drops incoming packets that are older than the latest
// one seen. There is no retransmission; each sequence surfaces at most once.
type SequencedChannel struct {
	host     Host
	outgoing []*packet.Packet
	incoming deliveredQueue

	localSequence  uint16
	remoteSequence uint16
	remoteSeen     bool
}

// NewSequencedChannel creates a SequencedChannel on the given Host.
func NewSequencedChannel(host Host) *SequencedChannel {
	return &SequencedChannel{host: host}
}

func (c *SequencedChannel) AddToQueue(p *packet.Packet) {
	c.localSequence = packet.NextSequence(c.localSequence)
	p.SequenceNumber = c.localSequence
	c.outgoing = append(c.outgoing, p)
}

func (c *SequencedChannel) SendNextPackets(time.Time) {
	for _, p := range c.outgoing {
		p.EncodeHeader()
		c.host.SendRaw(p)
		c.host.Pool().Recycle(p)
	}
	c.outgoing = c.outgoing[:0]
}

func (c *SequencedChannel) ProcessPacket(p *packet.Packet) bool {
	if c.remoteSeen && packet.RelSeq(p.SequenceNumber, c.remoteSequence) <= 0 {
		c.host.Pool().Recycle(p)
		return false
	}

	c.remoteSequence = p.SequenceNumber
	c.remoteSeen = true
	c.incoming.push(p)
	return true
}

func (c *SequencedChannel) ProcessAck(p *packet.Packet) {
	c.host.Pool().Recycle(p)
}

func (c *SequencedChannel) PopDelivered() *packet.Packet {
	return c.incoming.pop()
}

func (c *SequencedChannel) Teardown() {
	pool := c.host.Pool()
	for _, p := range c.outgoing {
		pool.Recycle(p)
	}
	c.outgoing = nil
	c.incoming.teardown(pool)
}
