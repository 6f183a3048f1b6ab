// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package stripe maps logical byte ranges of a two-way striped volume onto
// the backing devices. Logical blocks of blockSize bytes are dealt to the
// devices round-robin, block 0 to device 0, block 1 to device 1, block 2 to
// device 0 and so on. Every device stores its share of blocks packed
// contiguously, hence logical block b lives on device b%2 at device block
// b/2.
//
// Everything here is pure computation without any I/O, so the placement can
// be reasoned about and tested in isolation from the devices.
package stripe

import (
	"github.com/lpabon/godbc"
)

const (
	// Number of devices the blocks rotate over.
	Devices = 2
)

// Segment is a piece of a logical request which is served by exactly one
// device and never crosses a block boundary.
type Segment struct {
	// Index of the device holding the data.
	Device int

	// Byte offset within the device.
	Offset int64

	// Number of bytes. Never more than the block size.
	Length int64

	// Offset of the segment within the buffer of the original request.
	BufOffset int64
}

// Walk calls fn for every segment of the logical range starting at offset
// with length bytes, in ascending logical order. It stops at the first error
// returned by fn and returns it.
func Walk(offset, length, blockSize int64, fn func(Segment) error) error {
	godbc.Require(blockSize > 0, "block size must be positive", blockSize)
	godbc.Require(offset >= 0 && length >= 0, "negative range", offset, length)

	var bufOffset int64
	for length > 0 {
		block := offset / blockSize
		inBlock := offset % blockSize

		chunk := blockSize - inBlock
		if length < chunk {
			chunk = length
		}

		s := Segment{
			Device:    int(block % Devices),
			Offset:    (block/Devices)*blockSize + inBlock,
			Length:    chunk,
			BufOffset: bufOffset,
		}

		if err := fn(s); err != nil {
			return err
		}

		offset += chunk
		length -= chunk
		bufOffset += chunk
	}

	return nil
}

// Translate returns all segments of the logical range starting at offset with
// length bytes. Zero length results in no segments.
func Translate(offset, length, blockSize int64) []Segment {
	godbc.Require(blockSize > 0, "block size must be positive", blockSize)

	segments := make([]Segment, 0, length/blockSize+2)

	Walk(offset, length, blockSize, func(s Segment) error {
		segments = append(segments, s)
		return nil
	})

	return segments
}

// Device returns the index of the device holding the logical byte at offset.
func Device(offset, blockSize int64) int {
	return int((offset / blockSize) % Devices)
}

// PhysicalOffset returns the byte offset on the owning device of the logical
// byte at offset.
func PhysicalOffset(offset, blockSize int64) int64 {
	return (offset/blockSize/Devices)*blockSize + offset%blockSize
}
