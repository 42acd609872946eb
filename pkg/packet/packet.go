// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"encoding/binary"
	"fmt"
)

// Flags are transmitted in the high three bits of a packet's first byte.
const (
	// FlagAck marks a packet which acknowledges previously received data.
	FlagAck uint8 = 0x80

	// FlagFragmented marks a packet carrying one part of a larger payload.
	FlagFragmented uint8 = 0x40

	// flagReserved is kept free for future use and must be zero on the wire.
	flagReserved uint8 = 0x20

	propertyMask uint8 = 0x1F
)

// Header sizes in bytes. A packet starts with the property byte. Channeled
// properties follow with a little-endian uint16 sequence number and the
// channel byte. The FlagFragmented bit appends the fragment triple.
const (
	BaseHeaderSize      = 1
	ChanneledHeaderSize = BaseHeaderSize + 2 + 1
	FragmentHeaderSize  = 6

	// MaxPacketSize is the largest datagram this library will ever emit or
	// pool, matching the biggest MTU candidate without the UDP/IP overhead.
	MaxPacketSize = 7981 - 68
)

// HeaderSize returns the header length in bytes for a Property, excluding a
// possible fragment header.
func HeaderSize(p Property) int {
	if p.IsChanneled() {
		return ChanneledHeaderSize
	}
	return BaseHeaderSize
}

// Packet is a single datagram: a contiguous byte buffer holding the encoded
// header followed by the payload, plus decoded metadata.
//
// A Packet is owned by exactly one party at a time: the Pool it came from, a
// channel retaining it for retransmission, or an in-flight event. Retaining
// parties pin the packet with DontRecycleNow, turning Pool.Recycle into a
// no-op until the pin is released.
type Packet struct {
	Property       Property
	Channel        uint8
	SequenceNumber uint16

	FragmentID     uint16
	FragmentPart   uint16
	FragmentsTotal uint16
	IsFragmented   bool

	// DontRecycleNow pins the packet against recycling.
	DontRecycleNow bool

	// data is the raw storage; size is the used prefix of data.
	data []byte
	size int
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet(Property=%v, Channel=%d, Seq=%d, Size=%d)",
		p.Property, p.Channel, p.SequenceNumber, p.size)
}

// Size returns the encoded length in bytes, header included.
func (p *Packet) Size() int {
	return p.size
}

// SetSize grows or shrinks the used prefix of the buffer. The underlying
// storage is enlarged if needed.
func (p *Packet) SetSize(size int) {
	if size > len(p.data) {
		data := make([]byte, size)
		copy(data, p.data[:p.size])
		p.data = data
	}
	p.size = size
}

// Capacity returns the length of the underlying storage.
func (p *Packet) Capacity() int {
	return len(p.data)
}

// RawData returns the encoded packet bytes, header included. The slice
// aliases the packet's storage and is only valid until the packet is
// recycled.
func (p *Packet) RawData() []byte {
	return p.data[:p.size]
}

// HeaderSize returns this packet's header length, fragment header included.
func (p *Packet) HeaderSize() int {
	size := HeaderSize(p.Property)
	if p.IsFragmented {
		size += FragmentHeaderSize
	}
	return size
}

// Data returns the payload view behind the header. The slice aliases the
// packet's storage.
func (p *Packet) Data() []byte {
	return p.data[p.HeaderSize():p.size]
}

// GetDataSize returns the payload length: the packet size minus its header.
func (p *Packet) GetDataSize() int {
	return p.size - p.HeaderSize()
}

// MarkFragmented sets the fragment flag and the triple. It changes the
// header size, so it must precede payload writes through HeaderSize.
func (p *Packet) MarkFragmented(id, part, total uint16) {
	p.IsFragmented = true
	p.FragmentID = id
	p.FragmentPart = part
	p.FragmentsTotal = total
}

// EncodeHeader writes the decoded metadata into the buffer's header bytes.
// It must be called after any metadata mutation and before RawData is sent.
func (p *Packet) EncodeHeader() {
	first := uint8(p.Property) & propertyMask
	if p.IsFragmented {
		first |= FlagFragmented
	}
	if p.Property == Ack {
		first |= FlagAck
	}
	p.data[0] = first

	offset := BaseHeaderSize
	if p.Property.IsChanneled() {
		binary.LittleEndian.PutUint16(p.data[offset:], p.SequenceNumber)
		p.data[offset+2] = p.Channel
		offset = ChanneledHeaderSize
	}

	if p.IsFragmented {
		binary.LittleEndian.PutUint16(p.data[offset:], p.FragmentID)
		binary.LittleEndian.PutUint16(p.data[offset+2:], p.FragmentPart)
		binary.LittleEndian.PutUint16(p.data[offset+4:], p.FragmentsTotal)
	}
}

// DecodeHeader parses the buffer's header bytes into the metadata fields.
// An error is returned for an unknown property, a set reserved flag, a
// header exceeding the packet size or an invalid fragment triple.
func (p *Packet) DecodeHeader() error {
	if p.size < BaseHeaderSize {
		return fmt.Errorf("packet of %d bytes is too short for a header", p.size)
	}

	first := p.data[0]
	if first&flagReserved != 0 {
		return fmt.Errorf("reserved header flag is set: %#02x", first)
	}

	p.Property = Property(first & propertyMask)
	if !p.Property.IsValid() {
		return fmt.Errorf("unknown packet property %d", first&propertyMask)
	}

	p.IsFragmented = first&FlagFragmented != 0

	offset := BaseHeaderSize
	if p.Property.IsChanneled() {
		if p.size < ChanneledHeaderSize {
			return fmt.Errorf("channeled packet of %d bytes is too short", p.size)
		}
		p.SequenceNumber = binary.LittleEndian.Uint16(p.data[offset:])
		p.Channel = p.data[offset+2]
		offset = ChanneledHeaderSize
	}

	if p.IsFragmented {
		if p.size < offset+FragmentHeaderSize {
			return fmt.Errorf("fragmented packet of %d bytes is too short", p.size)
		}
		p.FragmentID = binary.LittleEndian.Uint16(p.data[offset:])
		p.FragmentPart = binary.LittleEndian.Uint16(p.data[offset+2:])
		p.FragmentsTotal = binary.LittleEndian.Uint16(p.data[offset+4:])

		if p.FragmentPart >= p.FragmentsTotal {
			return fmt.Errorf("fragment part %d is out of range, total is %d",
				p.FragmentPart, p.FragmentsTotal)
		}
	}

	return nil
}
