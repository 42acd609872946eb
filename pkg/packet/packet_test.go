// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"bytes"
	"testing"
)

func TestHeaderSize(t *testing.T) {
	tests := []struct {
		property Property
		size     int
	}{
		{Unreliable, 1},
		{ReliableUnordered, 4},
		{ReliableOrdered, 4},
		{Sequenced, 4},
		{ReliableSequenced, 4},
		{Ack, 4},
		{Ping, 1},
		{Pong, 1},
		{ConnectRequest, 1},
		{Disconnect, 1},
		{MtuCheck, 1},
		{Merged, 1},
	}

	for _, test := range tests {
		if size := HeaderSize(test.property); size != test.size {
			t.Fatalf("Header size of %v is %d, expected %d", test.property, size, test.size)
		}
	}
}

func TestHeaderCodecRoundTrip(t *testing.T) {
	pool := NewPool(8)

	tests := []struct {
		property   Property
		channel    uint8
		sequence   uint16
		fragmented bool
	}{
		{Unreliable, 0, 0, false},
		{ReliableOrdered, 0, 0, false},
		{ReliableOrdered, 3, 12345, false},
		{ReliableOrdered, 3, 12345, true},
		{ReliableUnordered, 1, MaxSequence - 1, false},
		{Sequenced, 7, 1, true},
		{ReliableSequenced, 2, 99, false},
		{Ack, 5, 0, false},
		{Ping, 0, 0, false},
		{ConnectRequest, 0, 0, false},
		{Merged, 0, 0, false},
	}

	for _, test := range tests {
		p := pool.Get(test.property, test.channel, 16)
		if test.fragmented {
			p.MarkFragmented(42, 1, 3)
			p.SetSize(p.HeaderSize() + 16)
		}
		p.SequenceNumber = test.sequence
		p.EncodeHeader()

		q := pool.GetAndRead(p.RawData())
		if q == nil {
			t.Fatalf("Decoding a round-tripped %v packet failed", test.property)
		}

		if q.Property != test.property {
			t.Fatalf("Property mismatch: expected %v, got %v", test.property, q.Property)
		}
		if test.property.IsChanneled() {
			if q.Channel != test.channel || q.SequenceNumber != test.sequence {
				t.Fatalf("Channel/sequence mismatch: got %d/%d", q.Channel, q.SequenceNumber)
			}
		}
		if q.IsFragmented != test.fragmented {
			t.Fatalf("Fragment flag mismatch for %v", test.property)
		}
		if test.fragmented {
			if q.FragmentID != 42 || q.FragmentPart != 1 || q.FragmentsTotal != 3 {
				t.Fatalf("Fragment triple mismatch: %d/%d/%d",
					q.FragmentID, q.FragmentPart, q.FragmentsTotal)
			}
		}

		pool.Recycle(p)
		pool.Recycle(q)
	}
}

func TestDecodeHeaderInvalid(t *testing.T) {
	pool := NewPool(8)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"unknown property", []byte{0x1F, 0x00, 0x00}},
		{"reserved flag", []byte{0x20, 0x00, 0x00}},
		{"short channeled", []byte{byte(ReliableOrdered), 0x01}},
		{"short fragmented", []byte{byte(ReliableOrdered) | FlagFragmented, 0x01, 0x00, 0x00, 0x01}},
		{"fragment part out of range", func() []byte {
			p := pool.Get(ReliableOrdered, 0, 4)
			p.MarkFragmented(1, 2, 2)
			p.SetSize(p.HeaderSize())
			p.EncodeHeader()
			return append([]byte{}, p.RawData()...)
		}()},
	}

	for _, test := range tests {
		if p := pool.GetAndRead(test.raw); p != nil {
			t.Fatalf("Decoding should have failed for %s", test.name)
		}
	}
}

func TestPacketDataView(t *testing.T) {
	pool := NewPool(8)

	payload := []byte("TextForTest")
	p := pool.GetWithData(ReliableOrdered, 2, payload)
	p.SequenceNumber = 7
	p.EncodeHeader()

	if p.GetDataSize() != len(payload) {
		t.Fatalf("Data size is %d, expected %d", p.GetDataSize(), len(payload))
	}
	if !bytes.Equal(p.Data(), payload) {
		t.Fatalf("Payload mismatch: %x", p.Data())
	}
	if p.Size() != len(payload)+ChanneledHeaderSize {
		t.Fatalf("Size is %d", p.Size())
	}
}

func TestPoolReuse(t *testing.T) {
	pool := NewPool(8)

	p := pool.Get(Unreliable, 0, 48)
	data := &p.RawData()[0]
	pool.Recycle(p)

	q := pool.Get(Unreliable, 0, 32)
	if &q.RawData()[0] != data {
		t.Fatal("Pool did not reuse the recycled buffer")
	}
	if q.Capacity() < 32+BaseHeaderSize {
		t.Fatalf("Reused capacity is too small: %d", q.Capacity())
	}
}

func TestPoolRecycleTwice(t *testing.T) {
	pool := NewPool(8)

	p := pool.Get(Unreliable, 0, 16)
	pool.Recycle(p)
	pool.Recycle(p)

	first := pool.Get(Unreliable, 0, 16)
	second := pool.Get(Unreliable, 0, 16)
	if first == second {
		t.Fatal("Double recycle pooled the same packet twice")
	}
}

func TestPoolPinnedPacket(t *testing.T) {
	pool := NewPool(8)

	p := pool.Get(Unreliable, 0, 32)
	p.DontRecycleNow = true
	buf := &p.RawData()[0]
	pool.Recycle(p)

	q := pool.Get(Unreliable, 0, 32)
	if &q.RawData()[0] == buf {
		t.Fatal("A pinned packet must not return to the pool")
	}

	p.DontRecycleNow = false
	pool.Recycle(p)
	r := pool.Get(Unreliable, 0, 32)
	if &r.RawData()[0] != buf {
		t.Fatal("An unpinned packet should be pooled again")
	}
}

func TestPoolOversize(t *testing.T) {
	pool := NewPool(8)

	p := pool.Get(Unreliable, 0, MaxPacketSize+16)
	buf := &p.RawData()[0]
	pool.Recycle(p)

	q := pool.getBySize(MaxPacketSize + 17)
	if &q.RawData()[0] == buf {
		t.Fatal("Oversize packets must never be pooled")
	}
}

func TestPoolLimit(t *testing.T) {
	pool := NewPool(2)

	packets := []*Packet{
		pool.Get(Unreliable, 0, 16),
		pool.Get(Unreliable, 0, 16),
		pool.Get(Unreliable, 0, 16),
	}
	for _, p := range packets {
		pool.Recycle(p)
	}

	if free := len(pool.buckets[bucketIndex(17)]); free != 2 {
		t.Fatalf("Bucket holds %d packets, limit is 2", free)
	}
}

func TestPrepool(t *testing.T) {
	pool := NewPool(16)
	pool.Prepool(4, 128)

	if free := len(pool.buckets[bucketIndex(128)]); free != 4 {
		t.Fatalf("Prepool stored %d packets, expected 4", free)
	}
}

func TestBucketSharing(t *testing.T) {
	tests := []struct {
		size   int
		bucket int
	}{
		{1, 0}, {16, 0}, {17, 1}, {33, 2}, {49, 2}, {64, 2},
		{65, 4}, {96, 4}, {128, 4}, {129, 8}, {4096, 8},
	}

	for _, test := range tests {
		if b := bucketIndex(test.size); b != test.bucket {
			t.Fatalf("Size %d mapped to bucket %d, expected %d", test.size, b, test.bucket)
		}
	}
}

func TestRelSeq(t *testing.T) {
	tests := []struct {
		a, b uint16
		rel  int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 1, -1},
		{0, MaxSequence - 1, 1},
		{MaxSequence - 1, 0, -1},
		{100, 200, -100},
		{16384, 0, -16384},
	}

	for _, test := range tests {
		if rel := RelSeq(test.a, test.b); rel != test.rel {
			t.Fatalf("RelSeq(%d, %d) = %d, expected %d", test.a, test.b, rel, test.rel)
		}
		if less := SeqLess(test.a, test.b); less != (test.rel < 0) {
			t.Fatalf("SeqLess(%d, %d) = %t", test.a, test.b, less)
		}
	}
}
