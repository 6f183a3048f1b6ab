// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package blockdev defines the operations a block device layout has to
// provide to be served by the protocol adapter. The adapter knows nothing
// about the layout, so striping, null or any future layout are
// interchangeable.
//
// Trim is deliberately not part of the contract.
package blockdev

// Device is the block device contract. Offsets and lengths are in bytes of
// the exported device. Callers deliver one request at a time; implementations
// are not required to be safe for concurrent use.
type Device interface {
	// ReadAt fills p with data starting at off. Either the whole buffer
	// is filled or an error is returned.
	ReadAt(p []byte, off int64) error

	// WriteAt stores p at off. An error means the content of the range is
	// undefined.
	WriteAt(p []byte, off int64) error

	// Flush makes all completed writes durable.
	Flush() error

	// Disconnect acknowledges the end of the session.
	Disconnect()

	// Exported size in bytes.
	Size() int64
}
