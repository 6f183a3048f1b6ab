// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package objdev presents an object storage as a fixed size byte addressable
// device. The device space is cut into objects of the same size and object i
// holds bytes [i*objectSize, (i+1)*objectSize). Objects are created lazily by
// the first write touching them and missing objects read as zeros, so a fresh
// bucket is a zeroed device.
package objdev

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Returned by Store implementations when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Interface for the object storage. Anything implementing it can be used as a
// backend of the device.
type Store interface {
	// Uploads data in buf under the key identifier.
	Upload(key int64, buf []byte) error

	// Downloads data into buf starting from offset in the object
	// identified by key. The length of buf is the length of requested
	// data. Returns ErrNotFound if there is no such object.
	DownloadAt(key int64, buf []byte, offset int64) error

	// Deletes object identified by key.
	Delete(key int64) error
}

// Device implements io.ReaderAt and io.WriterAt on top of a Store.
type Device struct {
	store      Store
	objectSize int64
	size       int64
}

// New returns device of size bytes stored in objects of objectSize bytes. The
// size is truncated to whole objects.
func New(store Store, objectSize, size int64) (*Device, error) {
	if objectSize <= 0 {
		return nil, fmt.Errorf("invalid object size %d", objectSize)
	}

	if size < objectSize {
		return nil, fmt.Errorf("device size %d smaller than object size %d", size, objectSize)
	}

	d := Device{
		store:      store,
		objectSize: objectSize,
		size:       size / objectSize * objectSize,
	}

	return &d, nil
}

// Calls fn for every object touched by the range. buf is the part of p
// belonging to the object and offset is the position within the object.
func (d *Device) forEachObject(p []byte, off int64, fn func(key int64, buf []byte, offset int64) error) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	var err error
	if off+int64(len(p)) > d.size {
		if off >= d.size {
			return 0, io.EOF
		}
		p = p[:d.size-off]
		err = io.EOF
	}

	n := 0
	for len(p) > 0 {
		key := off / d.objectSize
		inObject := off % d.objectSize

		chunk := d.objectSize - inObject
		if int64(len(p)) < chunk {
			chunk = int64(len(p))
		}

		if e := fn(key, p[:chunk], inObject); e != nil {
			return n, e
		}

		n += int(chunk)
		off += chunk
		p = p[chunk:]
	}

	return n, err
}

// ReadAt reads len(p) bytes at off. Never written objects read as zeros.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.forEachObject(p, off, func(key int64, buf []byte, offset int64) error {
		err := d.store.DownloadAt(key, buf, offset)
		if errors.Is(err, ErrNotFound) {
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}

		return err
	})
}

// WriteAt writes p at off. Objects covered only partially are downloaded,
// patched and uploaded again.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return d.forEachObject(p, off, func(key int64, buf []byte, offset int64) error {
		if int64(len(buf)) == d.objectSize {
			return d.put(key, buf)
		}

		object := make([]byte, d.objectSize)
		err := d.store.DownloadAt(key, object, 0)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		copy(object[offset:], buf)

		return d.put(key, object)
	})
}

// Zeroed objects are deleted instead of uploaded since missing objects read
// as zeros anyway.
func (d *Device) put(key int64, object []byte) error {
	for _, b := range object {
		if b != 0 {
			return d.store.Upload(key, object)
		}
	}

	return d.store.Delete(key)
}

// Sync has nothing to do since every upload is finished before WriteAt
// returns.
func (d *Device) Sync() error {
	return nil
}

func (d *Device) Close() error {
	return nil
}

func (d *Device) Size() int64 {
	return d.size
}

// MemStore is an in-memory Store. Useful for testing and for benchmarking
// without any backend.
type MemStore struct {
	mu      sync.Mutex
	objects map[int64][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[int64][]byte)}
}

func (m *MemStore) Upload(key int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	object := make([]byte, len(buf))
	copy(object, buf)
	m.objects[key] = object

	return nil
}

func (m *MemStore) DownloadAt(key int64, buf []byte, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	object, ok := m.objects[key]
	if !ok {
		return ErrNotFound
	}

	if offset+int64(len(buf)) > int64(len(object)) {
		return fmt.Errorf("range %d+%d out of object %d of size %d", offset, len(buf), key, len(object))
	}

	copy(buf, object[offset:])

	return nil
}

func (m *MemStore) Delete(key int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Objects returns number of stored objects.
func (m *MemStore) Objects() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}
