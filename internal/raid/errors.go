// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package raid

import (
	"errors"
	"fmt"
)

var (
	// Returned by any operation on a closed volume.
	ErrClosed = errors.New("volume is closed")

	// Request range is not within the logical volume.
	ErrOutOfRange = errors.New("request out of volume range")
)

// OpenError means a backing device could not be opened. It is fatal at
// startup.
type OpenError struct {
	Device int
	Path   string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open device %d (%s): %v", e.Device, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ShortIOError means a positioned read or write transferred fewer bytes than
// requested. The enclosing request fails, nothing is retried.
type ShortIOError struct {
	Op     string
	Device int
	Offset int64
	Want   int
	Got    int

	// Error reported by the device together with the short transfer, if
	// any.
	Err error
}

func (e *ShortIOError) Error() string {
	msg := fmt.Sprintf("short %s on device %d at %d: %d of %d bytes", e.Op, e.Device, e.Offset, e.Got, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ShortIOError) Unwrap() error {
	return e.Err
}

// DeviceMissingError means the request touches a device which is detached
// from the volume. Only flush tolerates missing devices.
type DeviceMissingError struct {
	Device int
}

func (e *DeviceMissingError) Error() string {
	return fmt.Sprintf("device %d is missing", e.Device)
}
