// Package config assembles a run configuration from defaults, an optional
// YAML file, command-line flags and the environment, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lance0/HostHoover/internal/archive"
	"github.com/lance0/HostHoover/internal/backup"
	"github.com/lance0/HostHoover/internal/device"
	"github.com/lance0/HostHoover/internal/notify"
	"github.com/lance0/HostHoover/internal/probe"
	"github.com/lance0/HostHoover/internal/publish"
	"github.com/lance0/HostHoover/internal/target"
)

const PasswordEnv = "HOSTHOOVER_PASSWORD"

// ErrUsage marks errors in how the program was invoked.
var ErrUsage = errors.New("usage error")

type Config struct {
	Subnet string `yaml:"subnet"`

	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SSHKey        string `yaml:"ssh_key"`
	KeyPassphrase string `yaml:"key_passphrase"`

	DeviceType string        `yaml:"device_type" validate:"required"`
	Command    string        `yaml:"command"`
	Port       int           `yaml:"port" validate:"min=0,max=65535"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
	Retries    int           `yaml:"retries" validate:"min=0,max=10"`

	Workers      int           `yaml:"workers" validate:"min=1,max=1024"`
	Rate         float64       `yaml:"rate" validate:"min=0"`
	Probe        string        `yaml:"probe" validate:"oneof=icmp tcp none"`
	PingAttempts int           `yaml:"ping_attempts" validate:"min=1,max=10"`
	PingTimeout  time.Duration `yaml:"ping_timeout" validate:"min=0"`
	// MaxTargets caps the subnet size; zero means no limit.
	MaxTargets   int           `yaml:"max_targets" validate:"min=0"`

	OutputDir     string `yaml:"output_dir" validate:"required"`
	ArchiveFormat string `yaml:"archive_format"`
	NoArchive     bool   `yaml:"no_archive"`

	Git         bool   `yaml:"git"`
	HistoryDB   string `yaml:"history_db"`
	ShowHistory int    `yaml:"-" validate:"min=0"`
	MetricsFile string `yaml:"metrics_file"`
	Debug       bool   `yaml:"debug"`

	SMTP    *notify.Config  `yaml:"smtp"`
	Publish *publish.Config `yaml:"publish"`

	// File is the YAML file the configuration was read from, if any.
	File string `yaml:"-"`
}

func Default() Config {
	return Config{
		DeviceType:    device.DefaultFamily,
		Timeout:       device.DefaultTimeout,
		Retries:       device.DefaultRetries,
		Workers:       backup.DefaultWorkers,
		Probe:         "icmp",
		PingAttempts:  probe.DefaultAttempts,
		PingTimeout:   probe.DefaultTimeout,
		MaxTargets:    target.DefaultMaxTargets,
		OutputDir:     "backups",
		ArchiveFormat: archive.Zip,
	}
}

func bind(fs *flag.FlagSet, c *Config, file *string) {
	str := func(p *string, usage string, names ...string) {
		for _, n := range names {
			fs.StringVar(p, n, *p, usage)
		}
	}
	str(&c.Username, "SSH username", "u", "username")
	str(&c.Password, "SSH password (falls back to $"+PasswordEnv+")", "p", "password")
	str(&c.SSHKey, "SSH private key file, instead of a password", "k", "ssh-key")
	str(&c.KeyPassphrase, "Passphrase for the SSH private key", "key-passphrase")
	str(&c.DeviceType, "Device type (cisco_ios, cisco_nxos, arista_eos, juniper_junos, nokia_sros, ...)", "d", "device-type")
	str(&c.OutputDir, "Output directory for backups", "o", "output-dir")
	str(&c.Command, "Override the configuration retrieval command", "command")
	str(&c.ArchiveFormat, "Archive format: zip, tar.gz, rar or 7z", "archive-format")
	str(&c.Probe, "Reachability probe: icmp, tcp or none", "probe")
	str(&c.HistoryDB, "SQLite database recording every host outcome", "history-db")
	str(&c.MetricsFile, "Write Prometheus textfile metrics to this path", "metrics-file")
	str(file, "YAML configuration file", "config")

	fs.IntVar(&c.Workers, "workers", c.Workers, "Maximum concurrent device sessions")
	fs.IntVar(&c.PingAttempts, "ping-attempts", c.PingAttempts, "Probe attempts per host")
	fs.DurationVar(&c.PingTimeout, "ping-timeout", c.PingTimeout, "Timeout of each probe attempt")
	fs.IntVar(&c.MaxTargets, "max-targets", c.MaxTargets, "Refuse subnets with more addresses than this (0 = no limit)")
	fs.IntVar(&c.Port, "port", c.Port, "SSH port (0 uses the device default)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Device operation timeout (e.g. 30s, 2m)")
	fs.IntVar(&c.Retries, "retries", c.Retries, "Session retries after transient connection failures")
	fs.Float64Var(&c.Rate, "rate", c.Rate, "Maximum new sessions per second (0 = unlimited)")
	fs.IntVar(&c.ShowHistory, "show-history", c.ShowHistory, "Print the N most recent history entries and exit")
	fs.BoolVar(&c.Git, "git", c.Git, "Commit each backup to the git repository holding the output directory")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging (includes scrapli debug output)")
	fs.BoolVar(&c.NoArchive, "no-archive", c.NoArchive, "Skip the run archive")
}

// Load parses args (without the program name). Flags override the YAML file
// named by -config, which overrides the defaults. The password falls back to
// the environment when no credential was given at all.
func Load(args []string, getenv func(string) string, usage io.Writer) (Config, error) {
	var file string
	first := Default()
	fs := flag.NewFlagSet("hosthoover", flag.ContinueOnError)
	fs.SetOutput(usage)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: hosthoover [flags] <subnet>\n\n")
		fs.PrintDefaults()
	}
	bind(fs, &first, &file)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	cfg := Default()
	if file != "" {
		if err := loadFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Second pass so flags land on top of the file.
	again := flag.NewFlagSet("hosthoover", flag.ContinueOnError)
	again.SetOutput(io.Discard)
	bind(again, &cfg, &file)
	if err := again.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cfg.File = file

	switch again.NArg() {
	case 0:
	case 1:
		cfg.Subnet = again.Arg(0)
	default:
		return Config{}, fmt.Errorf("%w: expected one subnet, got %q", ErrUsage, again.Args())
	}

	if cfg.Password == "" && cfg.SSHKey == "" && getenv != nil {
		cfg.Password = getenv(PasswordEnv)
	}
	cfg.ArchiveFormat = archive.Normalize(cfg.ArchiveFormat)
	cfg.DeviceType = strings.TrimSpace(cfg.DeviceType)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks field ranges and the run-mode requirements. Missing
// credentials are reported as device.ErrMissingCredentials.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ShowHistory > 0 {
		if c.HistoryDB == "" {
			return fmt.Errorf("%w: -show-history needs -history-db", ErrUsage)
		}
		return nil
	}
	if c.Subnet == "" {
		return fmt.Errorf("%w: missing subnet argument", ErrUsage)
	}
	return c.Credentials().Validate()
}

func (c Config) Credentials() device.Credentials {
	return device.Credentials{
		Username:      c.Username,
		Password:      c.Password,
		KeyPath:       c.SSHKey,
		KeyPassphrase: c.KeyPassphrase,
	}
}

func (c Config) Profile() device.Profile {
	return device.NewProfile(c.DeviceType, c.Command, c.Port, c.Timeout)
}
