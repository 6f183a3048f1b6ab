// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setenv(t *testing.T, key, value string) {
	old, ok := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))

	t.Cleanup(func() {
		if ok {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.toml")
}

func TestPositionalArguments(t *testing.T) {
	cfg, err := Load([]string{"-c", missingConfig(t), "512", "/dev/buse3", "/tmp/a", "/tmp/b"})
	require.NoError(t, err)

	assert.Equal(t, int64(512), cfg.BlockSize)
	assert.Equal(t, 3, cfg.Major)
	assert.Equal(t, [2]string{"/tmp/a", "/tmp/b"}, cfg.Devices())
	assert.False(t, cfg.Verbose)
}

func TestVerboseFlag(t *testing.T) {
	cfg, err := Load([]string{"-c", missingConfig(t), "-v", "4096", "7", "/tmp/a", "/tmp/b"})
	require.NoError(t, err)

	assert.True(t, cfg.Verbose)
	assert.Equal(t, 7, cfg.Major)
}

func TestInvalidBlockSize(t *testing.T) {
	for _, bs := range []string{"abc", "0", "-4096", "12k"} {
		_, err := Load([]string{"-c", missingConfig(t), "--", bs, "/dev/buse0", "/tmp/a", "/tmp/b"})

		var cerr *Error
		require.True(t, errors.As(err, &cerr), "block size %q", bs)
		assert.Equal(t, "block_size", cerr.Field)
	}
}

func TestInvalidRaidDevice(t *testing.T) {
	_, err := Load([]string{"-c", missingConfig(t), "4096", "/dev/nbd0", "/tmp/a", "/tmp/b"})

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "raid_device", cerr.Field)
}

func TestWrongArgumentCount(t *testing.T) {
	_, err := Load([]string{"-c", missingConfig(t), "4096", "/dev/buse0", "/tmp/a"})

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "arguments", cerr.Field)
}

func TestMissingDevices(t *testing.T) {
	_, err := Load([]string{"-c", missingConfig(t)})

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "device0", cerr.Field)
}

func TestEnvironment(t *testing.T) {
	setenv(t, "RAID0_BLOCKSIZE", "8192")
	setenv(t, "RAID0_DEVICE0", "/tmp/x")
	setenv(t, "RAID0_DEVICE1", "/tmp/y")
	setenv(t, "RAID0_BUSE_BLOCKSIZE", "512")

	cfg, err := Load([]string{"-c", missingConfig(t)})
	require.NoError(t, err)

	assert.Equal(t, int64(8192), cfg.BlockSize)
	assert.Equal(t, [2]string{"/tmp/x", "/tmp/y"}, cfg.Devices())
	assert.Equal(t, int64(512), cfg.Buse.BlockSize)
	assert.Equal(t, int64(4*1024*1024), cfg.Write.ChunkSize)
	assert.Equal(t, int64(64*1024), cfg.S3.ObjectSize)
}

func TestArgumentsOverrideEnvironment(t *testing.T) {
	setenv(t, "RAID0_BLOCKSIZE", "8192")
	setenv(t, "RAID0_DEVICE0", "/tmp/x")
	setenv(t, "RAID0_DEVICE1", "/tmp/y")

	cfg, err := Load([]string{"-c", missingConfig(t), "1024", "2", "/tmp/a", "/tmp/b"})
	require.NoError(t, err)

	assert.Equal(t, int64(1024), cfg.BlockSize)
	assert.Equal(t, [2]string{"/tmp/a", "/tmp/b"}, cfg.Devices())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
block_size = 65536
major = 4
device0 = "/dev/sdb"
device1 = "/dev/sdc"

[buse]
block_size = 1000
queue_depth = 64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, int64(65536), cfg.BlockSize)
	assert.Equal(t, 4, cfg.Major)
	assert.Equal(t, [2]string{"/dev/sdb", "/dev/sdc"}, cfg.Devices())
	assert.Equal(t, 64, cfg.Buse.QueueDepth)

	// Unsupported BUSE block size falls back to 4096.
	assert.Equal(t, int64(4096), cfg.Buse.BlockSize)
}

func TestNullNeedsNoDevices(t *testing.T) {
	setenv(t, "RAID0_NULL", "true")

	cfg, err := Load([]string{"-c", missingConfig(t)})
	require.NoError(t, err)

	assert.True(t, cfg.Null)
	assert.Equal(t, int64(8*1024*1024*1024), cfg.NullSize)
}
