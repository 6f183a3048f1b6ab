// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config provides the configuration of the program. Values come from
// a toml file, environment variables and the command line, in the order of
// increasing priority. The result is a plain value which is passed to the
// parts that need it, there is no global state.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for
	// all parameters will be used instead.
	defaultConfig = "/etc/raid0/config.toml"

	// Positional arguments, all or none of them.
	argsUsage = "BLOCKSIZE RAIDDEVICE DEVICE0 DEVICE1"

	// Number of backing devices.
	devices = 2
)

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	BlockSize int64  `toml:"block_size" env:"RAID0_BLOCKSIZE" env-default:"4096" env-description:"Stripe width in bytes. Every block of this size is stored on one device, blocks alternate between devices."`
	Major     int    `toml:"major" env:"RAID0_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
	Device0   string `toml:"device0" env:"RAID0_DEVICE0" env-description:"First backing device. Holds even blocks. File, block device, s3://bucket/prefix or NBD URI."`
	Device1   string `toml:"device1" env:"RAID0_DEVICE1" env-description:"Second backing device. Holds odd blocks."`
	Verbose   bool   `toml:"verbose" env:"RAID0_VERBOSE" env-default:"false" env-description:"Trace every request."`

	Null     bool  `toml:"null" env:"RAID0_NULL" env-default:"false" env-description:"Use null device instead of RAID, i.e. immediate acknowledge to read or write. For testing BUSE raw performance."`
	NullSize int64 `toml:"null_size" env:"RAID0_NULL_SIZE" env-default:"8" env-description:"Null device size in GB."`

	Buse struct {
		BlockSize  int64 `toml:"block_size" env:"RAID0_BUSE_BLOCKSIZE" env-default:"4096" env-description:"Block size of the exported device. 512 or 4096."`
		Threads    int   `toml:"threads" env:"RAID0_BUSE_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
		Scheduler  bool  `toml:"scheduler" env:"RAID0_BUSE_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
		QueueDepth int   `toml:"queue_depth" env:"RAID0_BUSE_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`
	} `toml:"buse"`

	Write struct {
		Durable       bool  `toml:"durable" env:"RAID0_WRITE_DURABLE" env-description:"Flush semantics. True means every write batch is synced to the devices, false means barrier only." env-default:"false"`
		BufSize       int64 `toml:"shared_buffer_size" env:"RAID0_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int64 `toml:"chunk_size" env:"RAID0_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int64 `toml:"collision_chunk_size" env:"RAID0_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int64 `toml:"shared_buffer_size" env:"RAID0_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	S3 struct {
		Remote     string `toml:"remote" env:"RAID0_S3_REMOTE" env-description:"S3 Remote address. Empty string for AWS S3 endpoint." env-default:""`
		Region     string `toml:"region" env:"RAID0_S3_REGION" env-description:"S3 Region." env-default:"us-east-1"`
		AccessKey  string `toml:"access_key" env:"RAID0_S3_ACCESSKEY" env-description:"S3 Access Key." env-default:""`
		SecretKey  string `toml:"secret_key" env:"RAID0_S3_SECRETKEY" env-description:"S3 Secret Key." env-default:""`
		ObjectSize int64  `toml:"object_size" env:"RAID0_S3_OBJECTSIZE" env-description:"Object size in KB." env-default:"64"`
		Size       int64  `toml:"size" env:"RAID0_S3_SIZE" env-description:"Size of s3 backed device in GB." env-default:"8"`
	} `toml:"s3"`

	Log struct {
		Level  int  `toml:"level" env:"RAID0_LOG_LEVEL" env-description:"Log level." env-default:"1"`
		Pretty bool `toml:"pretty" env:"RAID0_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"RAID0_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"RAID0_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Error is a configuration value which cannot be used. It is fatal at
// startup.
type Error struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, fmt.Sprint(e.Value), e.Reason)
}

// Devices returns paths of the backing devices in configuration order.
func (c *Config) Devices() [devices]string {
	return [devices]string{c.Device0, c.Device1}
}

// Load reads commandline arguments and handles the configuration. The
// configuration file has the lowest priority, then the environment variables
// and the command line arguments have the highest priority. It is perfectly
// fine to use just one of these or to combine them.
//
// args are the arguments without the program name.
func Load(args []string) (*Config, error) {
	var cfg Config

	f := flag.NewFlagSet("raid0", flag.ContinueOnError)
	f.StringVar(&cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	verbose := f.Bool("v", false, "Produce verbose output")
	f.Usage = cleanenv.FUsage(f.Output(), &cfg, nil, func() {
		fmt.Fprintf(f.Output(), "Usage: raid0 [-c config] [-v] [%s]\n", argsUsage)
		f.PrintDefaults()
	})

	if err := f.Parse(args); err != nil {
		return nil, err
	}

	if err := parse(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.positional(f.Args()); err != nil {
		return nil, err
	}

	if *verbose {
		cfg.Verbose = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.scale()

	return &cfg, nil
}

// Parse the configuration file if it exists and the environment variables.
func parse(cfg *Config) error {
	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		return cleanenv.ReadConfig(cfg.ConfigPath, cfg)
	}

	return cleanenv.ReadEnv(cfg)
}

// Positional arguments override the file and environment values.
func (c *Config) positional(args []string) error {
	if len(args) == 0 {
		return nil
	}

	if len(args) != 4 {
		return &Error{Field: "arguments", Value: strings.Join(args, " "), Reason: "expected " + argsUsage}
	}

	blockSize, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &Error{Field: "block_size", Value: args[0], Reason: "must be an integer"}
	}

	major, err := parseMajor(args[1])
	if err != nil {
		return err
	}

	c.BlockSize = blockSize
	c.Major = major
	c.Device0 = args[2]
	c.Device1 = args[3]

	return nil
}

// Accepts either the device path /dev/buseN or just N.
func parseMajor(raidDevice string) (int, error) {
	s := strings.TrimPrefix(raidDevice, "/dev/buse")

	major, err := strconv.Atoi(s)
	if err != nil || major < 0 {
		return 0, &Error{Field: "raid_device", Value: raidDevice, Reason: "expected /dev/buseN or N"}
	}

	return major, nil
}

func (c *Config) validate() error {
	if c.BlockSize <= 0 {
		return &Error{Field: "block_size", Value: c.BlockSize, Reason: "must be positive"}
	}

	if c.Major < 0 {
		return &Error{Field: "major", Value: c.Major, Reason: "must not be negative"}
	}

	if c.Null {
		if c.NullSize <= 0 {
			return &Error{Field: "null_size", Value: c.NullSize, Reason: "must be positive"}
		}

		return nil
	}

	for i, d := range c.Devices() {
		if d == "" {
			return &Error{Field: fmt.Sprintf("device%d", i), Value: d, Reason: "missing path"}
		}
	}

	if c.S3.ObjectSize <= 0 {
		return &Error{Field: "s3.object_size", Value: c.S3.ObjectSize, Reason: "must be positive"}
	}

	return nil
}

// Converts human friendly units to bytes.
func (c *Config) scale() {
	c.NullSize *= 1024 * 1024 * 1024
	c.S3.Size *= 1024 * 1024 * 1024
	c.S3.ObjectSize *= 1024
	c.Write.BufSize *= 1024 * 1024
	c.Write.ChunkSize *= 1024 * 1024
	c.Write.CollisionSize *= 1024 * 1024
	c.Read.BufSize *= 1024 * 1024

	// BUSE supports only these two.
	if c.Buse.BlockSize != 512 {
		c.Buse.BlockSize = 4096
	}
}
