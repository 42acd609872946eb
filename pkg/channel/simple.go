// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"time"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// SimpleChannel sends and receives without sequencing or acknowledgement.
// Packets may be lost, duplicated or reordered.
type SimpleChannel struct {
	host     Host
	outgoing []*packet.Packet
	incoming deliveredQueue
}

// NewSimpleChannel creates a SimpleChannel on the given Host.
func NewSimpleChannel(host Host) *SimpleChannel {
	return &SimpleChannel{host: host}
}

func (c *SimpleChannel) AddToQueue(p *packet.Packet) {
	c.outgoing = append(c.outgoing, p)
}

func (c *SimpleChannel) SendNextPackets(time.Time) {
	for _, p := range c.outgoing {
		p.EncodeHeader()
		c.host.SendRaw(p)
		c.host.Pool().Recycle(p)
	}
	c.outgoing = c.outgoing[:0]
}

func (c *SimpleChannel) ProcessPacket(p *packet.Packet) bool {
	c.incoming.push(p)
	return true
}

func (c *SimpleChannel) ProcessAck(p *packet.Packet) {
	c.host.Pool().Recycle(p)
}

func (c *SimpleChannel) PopDelivered() *packet.Packet {
	return c.incoming.pop()
}

func (c *SimpleChannel) Teardown() {
	pool := c.host.Pool()
	for _, p := range c.outgoing {
		pool.Recycle(p)
	}
	c.outgoing = nil
	c.incoming.teardown(pool)
}
