// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package nbd provides backing device served by an NBD server, e.g. qemu-nbd
// or nbdkit. Any NBD URI understood by libnbd can be used, typically
// nbd+unix:///?socket=/tmp/nbd.sock or nbd://host:10809/export.
package nbd

import (
	"libguestfs.org/libnbd"
)

// Device is a connected libnbd handle with cached export size.
type Device struct {
	handle *libnbd.Libnbd
	size   int64
}

// Open connects to the NBD export identified by uri.
func Open(uri string) (*Device, error) {
	h, err := libnbd.Create()
	if err != nil {
		return nil, err
	}

	if err = h.ConnectUri(uri); err != nil {
		h.Close()
		return nil, err
	}

	size, err := h.GetSize()
	if err != nil {
		h.Close()
		return nil, err
	}

	return &Device{handle: h, size: int64(size)}, nil
}

// libnbd transfers either everything or nothing, hence the returned count is
// all or zero.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if err := d.handle.Pread(p, uint64(off), nil); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if err := d.handle.Pwrite(p, uint64(off), nil); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (d *Device) Sync() error {
	return d.handle.Flush(nil)
}

func (d *Device) Close() error {
	if err := d.handle.Close(); err != nil {
		return err
	}

	return nil
}

func (d *Device) Size() int64 {
	return d.size
}
