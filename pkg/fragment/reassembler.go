// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fragment

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// reassemblyKey groups incoming fragments of one logical message.
type reassemblyKey struct {
	channel    uint8
	fragmentID uint16
}

// reassemblyEntry collects the parts of one message. The slot array is sized
// to the announced total; duplicates are detected by an occupied slot.
type reassemblyEntry struct {
	parts     []*packet.Packet
	received  int
	totalSize int
	lastPart  time.Time
}

// Reassembler groups incoming fragments by channel and fragment ID and hands
// out the restored message once all parts arrived. Entries not touched for
// the configured timeout are discarded by Sweep.
type Reassembler struct {
	pool    *packet.Pool
	timeout time.Duration
	entries map[reassemblyKey]*reassemblyEntry
}

// NewReassembler creates a Reassembler dropping stale entries after timeout.
func NewReassembler(pool *packet.Pool, timeout time.Duration) *Reassembler {
	return &Reassembler{
		pool:    pool,
		timeout: timeout,
		entries: make(map[reassemblyKey]*reassemblyEntry),
	}
}

// Add consumes a fragmented packet. Once the last missing part arrives, the
// whole message is returned as a single unfragmented packet and the entry is
// removed. Duplicate parts are recycled and dropped.
func (r *Reassembler) Add(p *packet.Packet, now time.Time) *packet.Packet {
	key := reassemblyKey{channel: p.Channel, fragmentID: p.FragmentID}

	entry, ok := r.entries[key]
	if !ok {
		entry = &reassemblyEntry{parts: make([]*packet.Packet, p.FragmentsTotal)}
		r.entries[key] = entry
	}

	if int(p.FragmentsTotal) != len(entry.parts) || entry.parts[p.FragmentPart] != nil {
		log.WithFields(log.Fields{
			"channel":  p.Channel,
			"fragment": p.FragmentID,
			"part":     p.FragmentPart,
		}).Debug("Dropping duplicate or inconsistent fragment")

		r.pool.Recycle(p)
		return nil
	}

	entry.parts[p.FragmentPart] = p
	entry.received++
	entry.totalSize += p.GetDataSize()
	entry.lastPart = now

	if entry.received < len(entry.parts) {
		return nil
	}

	delete(r.entries, key)
	return r.assemble(p.Property, p.Channel, entry)
}

// assemble concatenates the entry's payloads into one packet and recycles
// the parts.
func (r *Reassembler) assemble(property packet.Property, channel uint8, entry *reassemblyEntry) *packet.Packet {
	whole := r.pool.Get(property, channel, entry.totalSize)

	offset := whole.HeaderSize()
	buf := whole.RawData()
	for _, part := range entry.parts {
		offset += copy(buf[offset:], part.Data())
		r.pool.Recycle(part)
	}

	return whole
}

// Sweep discards entries that did not receive a part for the timeout,
// recycling their packets.
func (r *Reassembler) Sweep(now time.Time) {
	for key, entry := range r.entries {
		if now.Sub(entry.lastPart) <= r.timeout {
			continue
		}

		log.WithFields(log.Fields{
			"channel":  key.channel,
			"fragment": key.fragmentID,
			"received": entry.received,
			"total":    len(entry.parts),
		}).Debug("Discarding stale fragment entry")

		for _, part := range entry.parts {
			if part != nil {
				r.pool.Recycle(part)
			}
		}
		delete(r.entries, key)
	}
}

// Clear drops all pending entries, recycling their packets.
func (r *Reassembler) Clear() {
	for _, entry := range r.entries {
		for _, part := range entry.parts {
			if part != nil {
				r.pool.Recycle(part)
			}
		}
	}
	r.entries = make(map[reassemblyKey]*reassemblyEntry)
}
