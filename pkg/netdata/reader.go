// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package netdata

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader consumes typed values from a byte slice. It does not copy: the
// slice stays owned by the caller and must outlive the Reader.
//
// Every getter returns an error once the remaining data is too short; the
// Reader stays usable afterwards, its position unchanged by the failed call.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Data returns all remaining unread bytes.
func (r *Reader) Data() []byte {
	return r.data[r.pos:]
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) require(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("reading %d bytes, but only %d remain", n, r.Remaining())
	}
	return nil
}

func (r *Reader) GetByte() (byte, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetBool() (bool, error) {
	v, err := r.GetByte()
	return v != 0, err
}

func (r *Reader) GetUint16() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetUint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetUint64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetInt16() (int16, error) {
	v, err := r.GetUint16()
	return int16(v), err
}

func (r *Reader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

func (r *Reader) GetInt64() (int64, error) {
	v, err := r.GetUint64()
	return int64(v), err
}

func (r *Reader) GetFloat32() (float32, error) {
	v, err := r.GetUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) GetFloat64() (float64, error) {
	v, err := r.GetUint64()
	return math.Float64frombits(v), err
}

// GetBytes reads n raw bytes. The returned slice aliases the Reader's data.
func (r *Reader) GetBytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// GetBytesWithLength reads a uint16 length prefix followed by that many
// bytes.
func (r *Reader) GetBytesWithLength() ([]byte, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		r.pos -= 2
		return nil, err
	}
	return r.GetBytes(int(n))
}

// GetString reads a string written by Writer.PutString.
func (r *Reader) GetString() (string, error) {
	v, err := r.GetBytesWithLength()
	return string(v), err
}
