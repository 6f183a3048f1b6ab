// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busedev

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/asch/buse/lib/go/buse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ buse.BuseReadWriter = (*Device)(nil)

type memDevice struct {
	data         []byte
	flushes      int
	disconnected bool
	closed       bool
	writeErr     error
}

func (m *memDevice) ReadAt(p []byte, off int64) error {
	copy(p, m.data[off:])
	return nil
}

func (m *memDevice) WriteAt(p []byte, off int64) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	copy(m.data[off:], p)
	return nil
}

func (m *memDevice) Flush() error {
	m.flushes++
	return nil
}

func (m *memDevice) Disconnect()  { m.disconnected = true }
func (m *memDevice) Size() int64  { return int64(len(m.data)) }
func (m *memDevice) Close() error { m.closed = true; return nil }

const (
	testBlockSize = 4096
	testChunkSize = 64 * 1024
)

// Builds write chunk the same way the kernel module does. Offsets and lengths
// are in bytes and must be sector aligned.
func writeChunk(writes ...[2]int64) ([]byte, [][]byte) {
	metadataSize := testChunkSize / testBlockSize * WRITE_ITEM_SIZE
	chunk := make([]byte, testChunkSize+metadataSize)
	payloads := make([][]byte, 0, len(writes))

	data := chunk[metadataSize:]
	for i, w := range writes {
		m := chunk[i*WRITE_ITEM_SIZE:]
		binary.LittleEndian.PutUint64(m[0:], uint64(w[0]/sectorUnit))
		binary.LittleEndian.PutUint64(m[8:], uint64(w[1]/sectorUnit))
		binary.LittleEndian.PutUint64(m[16:], uint64(i+1))

		p := bytes.Repeat([]byte{byte(i + 1)}, int(w[1]))
		copy(data, p)
		data = data[w[1]:]
		payloads = append(payloads, p)
	}

	return chunk, payloads
}

func newTestDevice(durable bool) (*Device, *memDevice) {
	m := &memDevice{data: make([]byte, 1<<20)}
	d := New(m, Options{BlockSize: testBlockSize, WriteChunkSize: testChunkSize, Durable: durable})

	return d, m
}

func TestBuseWriteAppliesAllWrites(t *testing.T) {
	d, m := newTestDevice(false)

	chunk, payloads := writeChunk([2]int64{8192, 4096}, [2]int64{512, 1024}, [2]int64{65536, 8192})
	require.NoError(t, d.BuseWrite(3, chunk))

	assert.Equal(t, payloads[0], m.data[8192:8192+4096])
	assert.Equal(t, payloads[1], m.data[512:512+1024])
	assert.Equal(t, payloads[2], m.data[65536:65536+8192])
	assert.Equal(t, make([]byte, 512), m.data[:512])
	assert.Equal(t, 0, m.flushes)
}

func TestBuseWriteDurableFlushes(t *testing.T) {
	d, m := newTestDevice(true)

	chunk, _ := writeChunk([2]int64{0, 4096})
	require.NoError(t, d.BuseWrite(1, chunk))
	assert.Equal(t, 1, m.flushes)
}

func TestBuseWriteFailure(t *testing.T) {
	d, m := newTestDevice(true)
	m.writeErr = errors.New("device failed")

	chunk, _ := writeChunk([2]int64{0, 4096})
	assert.Equal(t, m.writeErr, d.BuseWrite(1, chunk))
	assert.Equal(t, 0, m.flushes)
}

func TestBuseWriteMalformedChunk(t *testing.T) {
	d, _ := newTestDevice(false)

	assert.Error(t, d.BuseWrite(1, make([]byte, 10)))

	chunk, _ := writeChunk([2]int64{0, testChunkSize})
	binary.LittleEndian.PutUint64(chunk[8:], uint64(2*testChunkSize/sectorUnit))
	assert.Error(t, d.BuseWrite(1, chunk))
}

func TestBuseRead(t *testing.T) {
	d, m := newTestDevice(false)

	for i := range m.data {
		m.data[i] = byte(i / testBlockSize)
	}

	chunk := make([]byte, 3*testBlockSize)
	require.NoError(t, d.BuseRead(2, 2, chunk))

	assert.Equal(t, bytes.Repeat([]byte{2}, testBlockSize), chunk[:testBlockSize])
	assert.Equal(t, bytes.Repeat([]byte{3}, testBlockSize), chunk[testBlockSize:2*testBlockSize])
	assert.Equal(t, make([]byte, testBlockSize), chunk[2*testBlockSize:])

	assert.Error(t, d.BuseRead(0, 4, chunk))
}

func TestSizeTruncatedToBlocks(t *testing.T) {
	m := &memDevice{data: make([]byte, 3*testBlockSize+512)}
	d := New(m, Options{BlockSize: testBlockSize, WriteChunkSize: testChunkSize})

	assert.Equal(t, int64(3*testBlockSize), d.Size())
}

func TestPostRemoveDisconnectsAndCloses(t *testing.T) {
	d, m := newTestDevice(false)

	d.BusePreRun()
	d.BusePostRemove()

	assert.True(t, m.disconnected)
	assert.True(t, m.closed)
}
