// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package busedev serves a blockdev.Device through the buse library. Buse
// package wraps the communication with the BUSE kernel module and does all
// the necessary configuration and low level operations. This package only
// translates its calls into the block device contract.
package busedev

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/asch/raid0/internal/blockdev"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	WRITE_ITEM_SIZE = 32

	// Sector is a linux constant, which is always 512, no matter how big
	// your sectors or blocks are. Please be careful since the terminology
	// is ambiguous.
	sectorUnit = 512
)

// Options to use in New() function.
type Options struct {
	// Block size of the exported device. Read requests come in these
	// units.
	BlockSize int64

	// Size of the write chunk passed from the kernel. Determines the size
	// of the metadata section of the chunk.
	WriteChunkSize int64

	// Flush after every write batch.
	Durable bool
}

// Device implements buse.BuseReadWriter on top of blockdev.Device.
type Device struct {
	dev blockdev.Device

	blockSize int64
	durable   bool

	// Size of the chunk portion which contains all writes metadata. After
	// this offset real data are stored.
	metadataSize int64
}

// Write as described by the metadata section of the write chunk. Both values
// are in bytes.
type extent struct {
	offset int64
	length int64
	seqNo  int64
	flag   int64
}

func New(dev blockdev.Device, o Options) *Device {
	return &Device{
		dev:          dev,
		blockSize:    o.BlockSize,
		durable:      o.Durable,
		metadataSize: o.WriteChunkSize / o.BlockSize * WRITE_ITEM_SIZE,
	}
}

// Size of the exported device. It is the size of the underlying device
// truncated to whole BUSE blocks.
func (d *Device) Size() int64 {
	return d.dev.Size() / d.blockSize * d.blockSize
}

// Parses write extent information from 32 bytes of raw memory. The memory is
// one write in metadata section of the chunk.
func parseExtent(b []byte) extent {
	return extent{
		offset: int64(binary.LittleEndian.Uint64(b[:8]) * sectorUnit),
		length: int64(binary.LittleEndian.Uint64(b[8:16]) * sectorUnit),
		seqNo:  int64(binary.LittleEndian.Uint64(b[16:24])),
		flag:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}

// Handle writes comming from the buse library. writes contain number write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata, until
// metadataSize and the rest are data of all writes in the same order.
//
// Writes are applied in order and the first failure fails the whole batch.
func (d *Device) BuseWrite(writes int64, chunk []byte) error {
	if int64(len(chunk)) < d.metadataSize || writes*WRITE_ITEM_SIZE > d.metadataSize {
		return fmt.Errorf("malformed write chunk: %d writes in %d bytes", writes, len(chunk))
	}

	metadata := chunk[:d.metadataSize]
	data := chunk[d.metadataSize:]

	for i := int64(0); i < writes; i++ {
		e := parseExtent(metadata[:WRITE_ITEM_SIZE])
		if e.length > int64(len(data)) {
			return fmt.Errorf("malformed write chunk: write %d of %d bytes exceeds data", i, e.length)
		}

		err := d.dev.WriteAt(data[:e.length], e.offset)
		if err != nil {
			log.Error().Err(err).Int64("offset", e.offset).Int64("length", e.length).Int64("seqno", e.seqNo).Msg("Write failed")
			return err
		}

		metadata = metadata[WRITE_ITEM_SIZE:]
		data = data[e.length:]
	}

	if d.durable {
		if err := d.dev.Flush(); err != nil {
			log.Error().Err(err).Msg("Flush failed")
			return err
		}
	}

	return nil
}

// Read extent starting at sector with length length to the buffer chunk. Both
// are in BUSE blocks.
func (d *Device) BuseRead(sector, length int64, chunk []byte) error {
	offset := sector * d.blockSize
	size := length * d.blockSize

	if size > int64(len(chunk)) {
		return fmt.Errorf("read of %d bytes does not fit into %d bytes chunk", size, len(chunk))
	}

	err := d.dev.ReadAt(chunk[:size], offset)
	if err != nil {
		log.Error().Err(err).Int64("offset", offset).Int64("length", size).Msg("Read failed")
	}

	return err
}

// Called by buse before the device starts serving requests.
func (d *Device) BusePreRun() {
	log.Info().Int64("size", d.Size()).Int64("block_size", d.blockSize).Bool("durable", d.durable).Msg("Serving device")
}

// Called after the device is removed from the kernel. The session ends and
// the underlying device is closed if it can be.
func (d *Device) BusePostRemove() {
	d.dev.Disconnect()

	if c, ok := d.dev.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("Closing device failed")
		}
	}
}
