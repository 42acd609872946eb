// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// outgoingSlot tracks one in-flight reliable packet until it is ACKed.
type outgoingSlot struct {
	p        *packet.Packet
	sequence uint16
	lastSend time.Time
	sent     bool
}

// ReliableChannel implements both reliable delivery methods. Outgoing
// payloads receive consecutive sequence numbers and stay retained until the
// matching ACK bit arrives; unacknowledged packets are retransmitted after
// the host's resend delay. The receive side acknowledges everything it sees
// with a bitmap over its window.
//
// In ordered mode, received payloads surface in strict sequence order; in
// unordered mode they surface immediately on first receipt.
type ReliableChannel struct {
	host    Host
	channel uint8
	ordered bool

	windowSize int

	// Send side: localSequence is the next sequence to assign, the window
	// spans [localWindowStart, localWindowStart+windowSize).
	pendingOutgoing  []*packet.Packet
	window           []outgoingSlot
	localSequence    uint16
	localWindowStart uint16

	// Receive side: slots hold out-of-order payloads in ordered mode,
	// received marks seen sequences in unordered mode.
	remoteWindowStart uint16
	slots             []*packet.Packet
	received          []bool
	incoming          deliveredQueue

	mustSendAck bool
}

// NewReliableChannel creates a ReliableChannel for one channel number. The
// ordered flag selects strict in-order surfacing.
func NewReliableChannel(host Host, channelNumber uint8, ordered bool, windowSize int) *ReliableChannel {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ReliableChannel{
		host:       host,
		channel:    channelNumber,
		ordered:    ordered,
		windowSize: windowSize,
		window:     make([]outgoingSlot, windowSize),
		slots:      make([]*packet.Packet, windowSize),
		received:   make([]bool, windowSize),
	}
}

func (c *ReliableChannel) slot(sequence uint16) int {
	return int(sequence) % c.windowSize
}

func (c *ReliableChannel) AddToQueue(p *packet.Packet) {
	c.pendingOutgoing = append(c.pendingOutgoing, p)
}

// SendNextPackets emits a scheduled ACK, moves queued payloads into free
// window slots and retransmits everything unacknowledged for longer than the
// resend delay.
func (c *ReliableChannel) SendNextPackets(now time.Time) {
	if c.mustSendAck {
		c.mustSendAck = false
		c.sendAck()
	}

	for len(c.pendingOutgoing) > 0 &&
		packet.RelSeq(c.localSequence, c.localWindowStart) < c.windowSize {

		p := c.pendingOutgoing[0]
		c.pendingOutgoing = c.pendingOutgoing[1:]

		p.SequenceNumber = c.localSequence
		p.DontRecycleNow = true
		p.EncodeHeader()

		c.window[c.slot(c.localSequence)] = outgoingSlot{p: p, sequence: c.localSequence}
		c.localSequence = packet.NextSequence(c.localSequence)
	}

	resendDelay := c.host.ResendDelay()
	for i := range c.window {
		slot := &c.window[i]
		if slot.p == nil {
			continue
		}
		if slot.sent && now.Sub(slot.lastSend) < resendDelay {
			continue
		}

		if slot.sent {
			log.WithFields(log.Fields{
				"channel":  c.channel,
				"sequence": slot.sequence,
			}).Debug("Retransmitting reliable packet")
			c.host.NoteRetransmit()
		}

		c.host.SendRaw(slot.p)
		slot.lastSend = now
		slot.sent = true
	}
}

// sendAck emits the receive window state: windowStart followed by the bitmap
// of received sequences.
func (c *ReliableChannel) sendAck() {
	bitmaskLen := (c.windowSize + 7) / 8
	ack := c.host.Pool().Get(packet.Ack, c.channel, 2+bitmaskLen)

	body := ack.Data()
	binary.LittleEndian.PutUint16(body, c.remoteWindowStart)
	for i := range body[2:] {
		body[2+i] = 0
	}

	for i := 0; i < c.windowSize; i++ {
		seq := (c.remoteWindowStart + uint16(i)) % packet.MaxSequence
		if c.slots[c.slot(seq)] != nil || c.received[c.slot(seq)] {
			body[2+i/8] |= 1 << (i % 8)
		}
	}

	ack.EncodeHeader()
	c.host.SendRaw(ack)
	c.host.Pool().Recycle(ack)
}

// ProcessAck marks the acknowledged sequences delivered, recycles their
// retained packets and slides the window past the contiguous ACKed prefix.
// Everything before the reported windowStart counts as acknowledged as well.
func (c *ReliableChannel) ProcessAck(p *packet.Packet) {
	defer c.host.Pool().Recycle(p)

	body := p.Data()
	bitmaskLen := (c.windowSize + 7) / 8
	if len(body) < 2+bitmaskLen {
		log.WithFields(log.Fields{
			"channel": c.channel,
			"size":    len(body),
		}).Debug("Dropping truncated ACK")
		return
	}

	ackWindowStart := binary.LittleEndian.Uint16(body)
	bitmask := body[2:]

	for i := range c.window {
		slot := &c.window[i]
		if slot.p == nil {
			continue
		}

		rel := packet.RelSeq(slot.sequence, ackWindowStart)
		acked := rel < 0
		if rel >= 0 && rel < c.windowSize {
			acked = bitmask[rel/8]&(1<<(rel%8)) != 0
		}
		if !acked {
			continue
		}

		slot.p.DontRecycleNow = false
		c.host.Pool().Recycle(slot.p)
		slot.p = nil
	}

	// Slide past the contiguous ACKed prefix.
	for packet.RelSeq(c.localWindowStart, c.localSequence) < 0 &&
		c.window[c.slot(c.localWindowStart)].p == nil {
		c.localWindowStart = packet.NextSequence(c.localWindowStart)
	}
}

// ProcessPacket consumes an incoming payload packet. Any data packet
// schedules an ACK. Duplicates are dropped but still acknowledged;
// out-of-window packets ahead of the window discard the oldest slot.
func (c *ReliableChannel) ProcessPacket(p *packet.Packet) bool {
	c.mustSendAck = true

	rel := packet.RelSeq(p.SequenceNumber, c.remoteWindowStart)

	if rel < 0 {
		// Behind the window: already delivered. The scheduled ACK's
		// windowStart covers it.
		c.host.Pool().Recycle(p)
		return false
	}

	// Ahead of the window: a well-behaved sender never gets here since its
	// send window is bounded. Discard the oldest slot until the packet
	// fits; retransmission restores the dropped data.
	for rel >= c.windowSize {
		idx := c.slot(c.remoteWindowStart)
		if c.slots[idx] != nil {
			c.host.Pool().Recycle(c.slots[idx])
			c.slots[idx] = nil
		}
		c.received[idx] = false
		c.remoteWindowStart = packet.NextSequence(c.remoteWindowStart)
		rel--

		log.WithFields(log.Fields{
			"channel":     c.channel,
			"windowStart": c.remoteWindowStart,
		}).Debug("Receive window overflow, discarded oldest slot")
	}

	idx := c.slot(p.SequenceNumber)

	if c.ordered {
		if c.slots[idx] != nil {
			// Duplicate of a still buffered packet.
			c.host.Pool().Recycle(p)
			return false
		}
		c.slots[idx] = p

		surfaced := false
		for c.slots[c.slot(c.remoteWindowStart)] != nil {
			headIdx := c.slot(c.remoteWindowStart)
			c.incoming.push(c.slots[headIdx])
			c.slots[headIdx] = nil
			c.remoteWindowStart = packet.NextSequence(c.remoteWindowStart)
			surfaced = true
		}
		return surfaced
	}

	if c.received[idx] {
		c.host.Pool().Recycle(p)
		return false
	}
	c.received[idx] = true
	c.incoming.push(p)

	for c.received[c.slot(c.remoteWindowStart)] {
		c.received[c.slot(c.remoteWindowStart)] = false
		c.remoteWindowStart = packet.NextSequence(c.remoteWindowStart)
	}
	return true
}

func (c *ReliableChannel) PopDelivered() *packet.Packet {
	return c.incoming.pop()
}

// Teardown recycles all retained outgoing packets, buffered receive slots
// and undelivered payloads.
func (c *ReliableChannel) Teardown() {
	pool := c.host.Pool()

	for _, p := range c.pendingOutgoing {
		pool.Recycle(p)
	}
	c.pendingOutgoing = nil

	for i := range c.window {
		if p := c.window[i].p; p != nil {
			p.DontRecycleNow = false
			pool.Recycle(p)
			c.window[i].p = nil
		}
	}

	for i, p := range c.slots {
		if p != nil {
			pool.Recycle(p)
			c.slots[i] = nil
		}
	}

	c.incoming.teardown(pool)
}
