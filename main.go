// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// raid0 is a userspace daemon using BUSE for creating a block device striped
// over two backing devices. Blocks of the configured size alternate between
// the devices, the first device holds even blocks and the second one odd
// blocks. Backing devices are files, block devices, s3 buckets or NBD
// exports.
//
// Usage:
//
//	raid0 [-c config] [-v] BLOCKSIZE RAIDDEVICE DEVICE0 DEVICE1
//
// There is no metadata on the backing devices, so they have to be always
// given in the same order.
//
// Project structure is following:
//
// - internal/stripe maps logical ranges to device segments. It is the core of
// the layout and it is pure computation.
//
// - internal/raid contains the volume owning both devices and serving
// requests through the stripe mapping.
//
// - internal/device contains backing device handles, with object storage and
// NBD variants in its subpackages.
//
// - internal/blockdev defines the block device contract, internal/busedev
// serves any implementation of the contract through BUSE.
//
// - internal/null contains trivial implementation of block device which does
// nothing but correctly. It can be used for benchmarking underlying buse
// library and kernel module.
//
// - internal/config contains configuration package which is common for both,
// raid and null implementations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/buse/lib/go/buse"
	"github.com/asch/raid0/internal/blockdev"
	"github.com/asch/raid0/internal/busedev"
	"github.com/asch/raid0/internal/config"
	"github.com/asch/raid0/internal/device"
	"github.com/asch/raid0/internal/null"
	"github.com/asch/raid0/internal/raid"
)

// Parse configuration from file, environment variables and arguments, opens
// the backing devices and creates new buse device serving the volume. The
// device is ran until it is signaled by SIGINT or SIGTERM to gracefully
// finish.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fatal(err)
	}

	loggerSetup(cfg.Log.Pretty, cfg.Log.Level, cfg.Verbose)

	if cfg.Profiler {
		runProfiler(cfg.ProfilerPort)
	}

	dev, err := getBlockDevice(cfg)
	if err != nil {
		fatal(err)
	}

	rw := busedev.New(dev, busedev.Options{
		BlockSize:      cfg.Buse.BlockSize,
		WriteChunkSize: cfg.Write.ChunkSize,
		Durable:        cfg.Write.Durable,
	})

	if rw.Size() == 0 {
		fatal(fmt.Errorf("device size %d is smaller than one %d bytes block", dev.Size(), cfg.Buse.BlockSize))
	}

	buse, err := buse.New(rw, buse.Options{
		Durable:        cfg.Write.Durable,
		WriteChunkSize: cfg.Write.ChunkSize,
		BlockSize:      cfg.Buse.BlockSize,
		Threads:        cfg.Buse.Threads,
		Major:          int64(cfg.Major),
		WriteShmSize:   cfg.Write.BufSize,
		ReadShmSize:    cfg.Read.BufSize,
		Size:           rw.Size(),
		CollisionArea:  cfg.Write.CollisionSize,
		QueueDepth:     int64(cfg.Buse.QueueDepth),
		Scheduler:      cfg.Buse.Scheduler,
	})

	if err != nil {
		fatal(err)
	}

	log.Info().Msgf("BUSE device %d registered!", cfg.Major)

	registerSigHandlers(buse, cfg.Major)

	buse.Run()

	log.Info().Msgf("Removing buse%d", cfg.Major)
	buse.RemoveDevice()
}

// Return null device if user wants it, otherwise returns the raid volume,
// which is default.
func getBlockDevice(cfg *config.Config) (blockdev.Device, error) {
	if cfg.Null {
		return null.NewNull(cfg.NullSize), nil
	}

	var o device.Options
	o.S3.Remote = cfg.S3.Remote
	o.S3.Region = cfg.S3.Region
	o.S3.AccessKey = cfg.S3.AccessKey
	o.S3.SecretKey = cfg.S3.SecretKey
	o.S3.ObjectSize = cfg.S3.ObjectSize
	o.S3.Size = cfg.S3.Size

	return raid.Open(cfg.Devices(), cfg.BlockSize, o)
}

// Register handler for graceful stop when SIGINT or SIGTERM came in.
func registerSigHandlers(buse buse.Buse, major int) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msgf("Received interrupt, stopping buse%d device!", major)
		buse.StopDevice()
	}()
}

// Verbose output traces every request regardless of the configured level.
func loggerSetup(pretty bool, level int, verbose bool) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		level = int(zerolog.TraceLevel)
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}

// Startup failures are reported and the process exits with non-zero code
// before any request is served.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "raid0: %v\n", err)
	os.Exit(1)
}
