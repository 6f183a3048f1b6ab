// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package device provides handles to the backing stores of the volume. A
// backing store is a regular file or a block device by default, but it can
// also be an object storage bucket or an NBD export. All of them are
// presented through the same Handle interface so the volume does not care.
package device

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/asch/raid0/internal/device/nbd"
	"github.com/asch/raid0/internal/device/objdev"
	"github.com/asch/raid0/internal/device/objdev/s3"
)

// Handle is an open backing store with known byte size. ReadAt and WriteAt
// follow io.ReaderAt and io.WriterAt semantics, i.e. a short transfer is
// always accompanied by an error.
type Handle interface {
	io.ReaderAt
	io.WriterAt

	// Makes all previous writes durable.
	Sync() error

	Close() error

	// Size in bytes observed when the handle was opened.
	Size() int64
}

// Options for backing stores which are not plain files. Plain files and block
// devices do not need any.
type Options struct {
	S3 struct {
		Remote     string
		Region     string
		AccessKey  string
		SecretKey  string
		ObjectSize int64
		Size       int64
	}
}

// File is a Handle for regular files and block devices.
type File struct {
	*os.File
	size int64
}

// OpenFile opens path for reading and writing and determines its size by
// seeking to the end. It works for block devices as well, where stat does not
// report the size.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{File: f, size: size}, nil
}

func (f *File) Size() int64 {
	return f.size
}

// Open returns handle for the backing store identified by path. Paths with
// s3:// scheme are object storage buckets with optional key prefix, nbd://
// and nbd+unix:// are NBD URIs and everything else is a local path.
func Open(path string, o Options) (Handle, error) {
	var h Handle
	var err error

	switch scheme(path) {
	case "s3":
		h, err = openS3(path, o)
	case "nbd", "nbds", "nbd+unix", "nbds+unix":
		h, err = nbd.Open(path)
	default:
		h, err = OpenFile(path)
	}

	if err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Int64("size", h.Size()).Msg("Got device")

	return h, nil
}

func openS3(path string, o Options) (Handle, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing bucket in %q", path)
	}

	store, err := s3.New(s3.Options{
		Remote:    o.S3.Remote,
		Region:    o.S3.Region,
		Bucket:    u.Host,
		Prefix:    strings.Trim(u.Path, "/"),
		AccessKey: o.S3.AccessKey,
		SecretKey: o.S3.SecretKey,
	})

	if err != nil {
		return nil, err
	}

	return objdev.New(store, o.S3.ObjectSize, o.S3.Size)
}

func scheme(path string) string {
	i := strings.Index(path, "://")
	if i <= 0 {
		return ""
	}

	return path[:i]
}
