// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	log "github.com/sirupsen/logrus"
)

// The pool buckets packets by capacity: bucket b = min(8, (size-1)/16).
// Buckets 2 and 3 share the 64 byte class and buckets 4 to 7 the 128 byte
// class, so that close size classes do not fragment the pool. The last
// bucket holds everything larger.
const (
	poolBuckets = 9

	// DefaultPoolLimitPerPeer scales the per-bucket bound with the
	// manager's connection limit.
	DefaultPoolLimitPerPeer = 50
)

// bucketCapacities is the nominal buffer capacity allocated per bucket. The
// "others" bucket allocates the exact requested size.
var bucketCapacities = [poolBuckets]int{16, 32, 64, 64, 128, 128, 128, 128, 0}

func bucketIndex(size int) int {
	b := (size - 1) / 16
	if b > 8 {
		b = 8
	}
	switch b {
	case 3:
		return 2
	case 5, 6, 7:
		return 4
	default:
		return b
	}
}

// Pool keeps size-class free lists of reusable packet buffers.
//
// The Pool is not safe for concurrent use; it belongs to the manager's tick
// thread together with everything it hands out.
type Pool struct {
	buckets [poolBuckets][]*Packet
	limit   int
}

// NewPool creates a Pool whose buckets each hold at most limit packets.
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = DefaultPoolLimitPerPeer
	}
	return &Pool{limit: limit}
}

// Get returns a zero-initialised packet for the given Property and channel
// whose buffer holds at least payloadSize bytes behind the header.
func (pool *Pool) Get(property Property, channel uint8, payloadSize int) *Packet {
	size := payloadSize + HeaderSize(property)
	p := pool.getBySize(size)
	p.Property = property
	p.Channel = channel
	return p
}

// GetWithData returns a packet carrying a copy of data as its payload.
func (pool *Pool) GetWithData(property Property, channel uint8, data []byte) *Packet {
	p := pool.Get(property, channel, len(data))
	copy(p.data[HeaderSize(property):], data)
	return p
}

// GetAndRead parses a raw datagram into a packet. It returns nil if the
// header is malformed or the property unknown; the caller must treat that as
// a silently dropped datagram.
func (pool *Pool) GetAndRead(raw []byte) *Packet {
	p := pool.getBySize(len(raw))
	copy(p.data, raw)

	if err := p.DecodeHeader(); err != nil {
		log.WithFields(log.Fields{
			"size":  len(raw),
			"error": err,
		}).Debug("Dropping malformed packet")

		pool.Recycle(p)
		return nil
	}
	return p
}

// getBySize fetches a packet from the matching bucket, upsizing a reused
// buffer in place if the bucket's nominal capacity is too small.
func (pool *Pool) getBySize(size int) *Packet {
	b := bucketIndex(size)

	if free := pool.buckets[b]; len(free) > 0 {
		p := free[len(free)-1]
		pool.buckets[b] = free[:len(free)-1]

		*p = Packet{data: p.data}
		p.SetSize(size)
		return p
	}

	capacity := bucketCapacities[b]
	if capacity < size {
		capacity = size
	}

	return &Packet{data: make([]byte, capacity), size: size}
}

// Recycle returns a packet to its bucket. Pinned packets, oversize packets
// and overflow beyond the pool limit are dropped for the garbage collector.
// A packet that is already pooled is not pooled a second time.
func (pool *Pool) Recycle(p *Packet) {
	if p == nil || p.DontRecycleNow {
		return
	}
	if len(p.data) > MaxPacketSize {
		return
	}

	b := bucketIndex(len(p.data))
	for _, pooled := range pool.buckets[b] {
		if pooled == p {
			return
		}
	}
	if len(pool.buckets[b]) >= pool.limit {
		log.WithFields(log.Fields{
			"bucket": b,
			"limit":  pool.limit,
		}).Debug("Packet pool bucket is full, dropping packet")
		return
	}

	p.size = 0
	pool.buckets[b] = append(pool.buckets[b], p)
}

// Prepool warm-starts the bucket matching size with n packets.
func (pool *Pool) Prepool(n, size int) {
	for i := 0; i < n; i++ {
		b := bucketIndex(size)
		if len(pool.buckets[b]) >= pool.limit {
			return
		}

		capacity := bucketCapacities[b]
		if capacity < size {
			capacity = size
		}
		pool.buckets[b] = append(pool.buckets[b], &Packet{data: make([]byte, capacity)})
	}
}
