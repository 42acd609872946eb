// SPDX-FileCopyrightText: 2026 The FastNetLib Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package netdata provides typed little-endian serialization over byte
// slices. A Writer builds payloads for sending, a Reader consumes payloads
// handed out by receive events.
package netdata

import (
	"encoding/binary"
	"math"
)

// Writer serialises typed values into a growing byte buffer.
type Writer struct {
	data []byte
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// NewWriterWithCapacity creates an empty Writer with preallocated storage.
func NewWriterWithCapacity(capacity int) *Writer {
	return &Writer{data: make([]byte, 0, capacity)}
}

// Data returns the written bytes.
func (w *Writer) Data() []byte {
	return w.data
}

// Length returns the number of written bytes.
func (w *Writer) Length() int {
	return len(w.data)
}

// Reset discards all written data, keeping the storage.
func (w *Writer) Reset() {
	w.data = w.data[:0]
}

func (w *Writer) PutByte(v byte) {
	w.data = append(w.data, v)
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
}

func (w *Writer) PutUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) PutUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) PutInt16(v int16) {
	w.PutUint16(uint16(v))
}

func (w *Writer) PutInt32(v int32) {
	w.PutUint32(uint32(v))
}

func (w *Writer) PutInt64(v int64) {
	w.PutUint64(uint64(v))
}

func (w *Writer) PutFloat32(v float32) {
	w.PutUint32(math.Float32bits(v))
}

func (w *Writer) PutFloat64(v float64) {
	w.PutUint64(math.Float64bits(v))
}

// PutBytes appends raw bytes without a length prefix.
func (w *Writer) PutBytes(v []byte) {
	w.data = append(w.data, v...)
}

// PutBytesWithLength appends a uint16 length prefix followed by the bytes.
func (w *Writer) PutBytesWithLength(v []byte) {
	w.PutUint16(uint16(len(v)))
	w.PutBytes(v)
}

// PutString appends a string as a uint16 length prefix and UTF-8 bytes.
func (w *Writer) PutString(v string) {
	w.PutBytesWithLength([]byte(v))
}
