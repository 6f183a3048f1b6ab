// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package raid implements RAID0 volume striped over two backing devices. The
// volume is the block device served to the kernel. Every request is split by
// the stripe package into per device segments and the segments are executed
// one after another on the backing devices.
//
// There is no metadata on the devices. Role of a device is given purely by
// its position in the configuration, so the devices have to be always
// provided in the same order to reassemble the volume.
//
// The volume is not safe for concurrent use. The caller delivers one request
// at a time, which is what the BUSE adapter does.
package raid

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/asch/raid0/internal/config"
	"github.com/asch/raid0/internal/device"
	"github.com/asch/raid0/internal/stripe"
)

// Volume implements blockdev.Device. It is Open after construction and
// Closed after Close(), there are no other states.
type Volume struct {
	// Backing devices in configuration order. Device 0 holds even blocks
	// and device 1 odd blocks. Detached device is nil.
	devices [stripe.Devices]device.Handle

	// Stripe width in bytes.
	blockSize int64

	// Exported size in bytes. Multiple of blockSize.
	size int64

	closed bool
}

// LogicalSize returns size of the volume built from devices of size0 and
// size1 bytes. It is the smaller of both, truncated to whole blocks.
func LogicalSize(size0, size1, blockSize int64) int64 {
	size := size0
	if size1 < size {
		size = size1
	}

	return size / blockSize * blockSize
}

// New returns volume striped over already opened devices d0 and d1. The
// volume takes ownership of the devices.
func New(d0, d1 device.Handle, blockSize int64) (*Volume, error) {
	if blockSize <= 0 {
		return nil, &config.Error{Field: "block_size", Value: blockSize, Reason: "must be positive"}
	}

	v := Volume{
		devices:   [stripe.Devices]device.Handle{d0, d1},
		blockSize: blockSize,
		size:      LogicalSize(d0.Size(), d1.Size(), blockSize),
	}

	log.Info().Int64("size", v.size).Int64("block_size", blockSize).Msg("RAID device resulting size")

	return &v, nil
}

// Open opens both devices for reading and writing and returns volume striped
// over them. When any device cannot be opened the already opened one is
// closed again.
func Open(paths [stripe.Devices]string, blockSize int64, o device.Options) (*Volume, error) {
	if blockSize <= 0 {
		return nil, &config.Error{Field: "block_size", Value: blockSize, Reason: "must be positive"}
	}

	var handles [stripe.Devices]device.Handle
	for i, path := range paths {
		h, err := device.Open(path, o)
		if err != nil {
			for _, opened := range handles[:i] {
				opened.Close()
			}

			return nil, &OpenError{Device: i, Path: path, Err: err}
		}

		handles[i] = h
	}

	return New(handles[0], handles[1], blockSize)
}

// Size returns logical size of the volume in bytes.
func (v *Volume) Size() int64 {
	return v.size
}

func (v *Volume) BlockSize() int64 {
	return v.blockSize
}

// ReadAt reads len(p) bytes at logical offset off. Every segment has to be
// read completely, otherwise the whole request fails.
func (v *Volume) ReadAt(p []byte, off int64) error {
	if err := v.checkRange(p, off); err != nil {
		return err
	}

	log.Trace().Int64("offset", off).Int("length", len(p)).Msg("R")

	return stripe.Walk(off, int64(len(p)), v.blockSize, func(s stripe.Segment) error {
		d, err := v.device(s.Device)
		if err != nil {
			return err
		}

		buf := p[s.BufOffset : s.BufOffset+s.Length]
		n, err := d.ReadAt(buf, s.Offset)

		// io.ReaderAt may report io.EOF together with complete read at
		// the end of the device.
		if n == len(buf) && (err == nil || errors.Is(err, io.EOF)) {
			return nil
		}

		return transferError("read", s, n, err)
	})
}

// WriteAt writes p at logical offset off. Segments are written in logical
// order and a failure leaves the preceding segments written.
func (v *Volume) WriteAt(p []byte, off int64) error {
	if err := v.checkRange(p, off); err != nil {
		return err
	}

	log.Trace().Int64("offset", off).Int("length", len(p)).Msg("W")

	return stripe.Walk(off, int64(len(p)), v.blockSize, func(s stripe.Segment) error {
		d, err := v.device(s.Device)
		if err != nil {
			return err
		}

		buf := p[s.BufOffset : s.BufOffset+s.Length]
		n, err := d.WriteAt(buf, s.Offset)
		if n == len(buf) && err == nil {
			return nil
		}

		return transferError("write", s, n, err)
	})
}

// Flush syncs all present devices. Detached devices are skipped. Both devices
// are synced even if one of them fails and the first failure is returned.
func (v *Volume) Flush() error {
	if v.closed {
		return ErrClosed
	}

	log.Trace().Msg("Received a flush request.")

	var g errgroup.Group
	for i, d := range v.devices {
		if d == nil {
			log.Debug().Int("device", i).Msg("Skipping missing device in flush")
			continue
		}

		i, d := i, d
		g.Go(func() error {
			if err := d.Sync(); err != nil {
				return fmt.Errorf("sync device %d: %w", i, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Disconnect only acknowledges the end of session. Devices stay open until
// Close.
func (v *Volume) Disconnect() {
	log.Trace().Msg("Received a disconnect request.")
}

// Close closes all present devices and moves the volume to the closed state.
// Closing a closed volume does nothing.
func (v *Volume) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	var firstErr error
	for i, d := range v.devices {
		if d == nil {
			continue
		}

		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close device %d: %w", i, err)
		}
	}

	return firstErr
}

// Detach removes device i from the volume and returns it. Requests touching
// the detached device fail with DeviceMissingError, flush skips it. The
// caller owns the returned handle.
func (v *Volume) Detach(i int) (device.Handle, error) {
	if i < 0 || i >= stripe.Devices {
		return nil, fmt.Errorf("no device %d", i)
	}

	d := v.devices[i]
	if d == nil {
		return nil, &DeviceMissingError{Device: i}
	}

	v.devices[i] = nil
	log.Warn().Int("device", i).Msg("Device detached, volume is degraded")

	return d, nil
}

func (v *Volume) device(i int) (device.Handle, error) {
	d := v.devices[i]
	if d == nil {
		return nil, &DeviceMissingError{Device: i}
	}

	return d, nil
}

func (v *Volume) checkRange(p []byte, off int64) error {
	if v.closed {
		return ErrClosed
	}

	if off < 0 || off+int64(len(p)) > v.size {
		return fmt.Errorf("%w: %d+%d, size %d", ErrOutOfRange, off, len(p), v.size)
	}

	return nil
}

func transferError(op string, s stripe.Segment, n int, err error) error {
	if n < int(s.Length) {
		return &ShortIOError{
			Op:     op,
			Device: s.Device,
			Offset: s.Offset,
			Want:   int(s.Length),
			Got:    n,
			Err:    err,
		}
	}

	return fmt.Errorf("%s device %d at %d: %w", op, s.Device, s.Offset, err)
}
