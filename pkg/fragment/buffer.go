// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fragment splits logical messages into MTU-sized packets and puts
// them back together on the receiving side.
package fragment

import (
	"fmt"
	"io"

	"github.com/DanisJoyal/FastNetLib/pkg/packet"
)

// Buffer is an ordered sequence of packets forming a single logical message.
//
// The write side appends into the current tail packet until the MTU is
// reached, then allocates the next one. The read side produces a contiguous
// byte stream across packet boundaries. A Buffer is finalised once through
// Finalize, which stamps the fragment headers, or recycled through Clear.
type Buffer struct {
	pool     *packet.Pool
	property packet.Property
	channel  uint8

	mtu        int
	autoResize bool
	maxSize    int

	packets     []*packet.Packet
	totalSize   int
	writeCursor int
	readCursor  int
}

// NewBuffer creates a Buffer for the given delivery Property and channel.
// mtu bounds each packet's wire size. If autoResize is unset the Buffer is
// limited to a single packet; otherwise it grows up to maxSize payload
// bytes, unbounded for a maxSize of zero.
func NewBuffer(pool *packet.Pool, property packet.Property, channel uint8, mtu int, autoResize bool, maxSize int) *Buffer {
	return &Buffer{
		pool:       pool,
		property:   property,
		channel:    channel,
		mtu:        mtu,
		autoResize: autoResize,
		maxSize:    maxSize,
	}
}

// payloadCapacity is the payload room of one packet: the MTU without the
// channeled header and the fragment triple.
func (b *Buffer) payloadCapacity() int {
	return b.mtu - packet.HeaderSize(b.property) - packet.FragmentHeaderSize
}

// Len returns the total payload size written so far.
func (b *Buffer) Len() int {
	return b.totalSize
}

// Write appends p to the message, allocating packets as needed.
func (b *Buffer) Write(p []byte) (n int, err error) {
	capacity := b.payloadCapacity()

	for len(p) > 0 {
		if b.maxSize > 0 && b.totalSize+1 > b.maxSize {
			return n, fmt.Errorf("buffer is full: maxSize of %d bytes reached", b.maxSize)
		}
		if !b.autoResize && len(b.packets) == 1 && b.writeCursor == capacity {
			return n, fmt.Errorf("buffer is full: auto-resize is disabled")
		}

		if len(b.packets) == 0 || b.writeCursor == capacity {
			b.packets = append(b.packets, b.pool.Get(b.property, b.channel,
				capacity+packet.FragmentHeaderSize))
			b.writeCursor = 0
		}

		tail := b.packets[len(b.packets)-1]
		room := capacity - b.writeCursor
		if b.maxSize > 0 && room > b.maxSize-b.totalSize {
			room = b.maxSize - b.totalSize
		}
		if room > len(p) {
			room = len(p)
		}

		copy(tail.RawData()[tail.HeaderSize()+packet.FragmentHeaderSize+b.writeCursor:], p[:room])
		b.writeCursor += room
		b.totalSize += room
		n += room
		p = p[room:]
	}

	return n, nil
}

// Read copies the next part of the message stream into p. It crosses packet
// boundaries and returns io.EOF once the whole message was read.
func (b *Buffer) Read(p []byte) (n int, err error) {
	for len(p) > 0 && b.readCursor < b.totalSize {
		capacity := b.payloadCapacity()
		idx := b.readCursor / capacity
		offset := b.readCursor % capacity

		avail := capacity - offset
		if rest := b.totalSize - b.readCursor; avail > rest {
			avail = rest
		}
		if avail > len(p) {
			avail = len(p)
		}

		pkt := b.packets[idx]
		start := pkt.HeaderSize() + packet.FragmentHeaderSize + offset
		copy(p, pkt.RawData()[start:start+avail])

		b.readCursor += avail
		n += avail
		p = p[avail:]
	}

	if n == 0 && b.readCursor >= b.totalSize {
		err = io.EOF
	}
	return
}

// Seek positions the read cursor at an absolute payload offset. The offset
// within the packet holding that position is the seek position minus the sum
// of all preceding packet payload sizes.
func (b *Buffer) Seek(position int) error {
	if position < 0 || position > b.totalSize {
		return fmt.Errorf("seek position %d is outside the buffer of %d bytes", position, b.totalSize)
	}
	b.readCursor = position
	return nil
}

// Finalize stamps the message's packets and hands them over to the caller,
// leaving the Buffer empty. A single-packet message stays unfragmented and
// its payload is moved behind the plain header. The last packet is flushed
// with its possibly truncated size.
func (b *Buffer) Finalize(fragmentID uint16) []*packet.Packet {
	packets := b.packets
	b.packets = nil

	if len(packets) == 0 {
		return nil
	}

	capacity := b.payloadCapacity()

	if len(packets) == 1 {
		p := packets[0]
		size := b.totalSize
		// Pull the payload over the unused fragment header.
		data := p.RawData()
		copy(data[p.HeaderSize():], data[p.HeaderSize()+packet.FragmentHeaderSize:p.HeaderSize()+packet.FragmentHeaderSize+size])
		p.SetSize(p.HeaderSize() + size)
		b.reset()
		return packets
	}

	total := uint16(len(packets))
	for i, p := range packets {
		p.MarkFragmented(fragmentID, uint16(i), total)

		size := capacity
		if i == len(packets)-1 {
			size = b.totalSize - capacity*(len(packets)-1)
		}
		p.SetSize(p.HeaderSize() + size)
		p.EncodeHeader()
	}

	b.reset()
	return packets
}

// Clear recycles all packets still held by the Buffer.
func (b *Buffer) Clear() {
	for _, p := range b.packets {
		b.pool.Recycle(p)
	}
	b.packets = nil
	b.reset()
}

func (b *Buffer) reset() {
	b.totalSize = 0
	b.writeCursor = 0
	b.readCursor = 0
}
