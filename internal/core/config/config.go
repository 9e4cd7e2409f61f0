package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/davio/internal/core/transfer"
	"github.com/davio/pkg/davclient"
)

type Config struct {
	URL      string
	Username string
	Password string
	Token    string

	ChunkSize int
	Timeout   time.Duration
	Insecure  bool
	Proxy     string
	Parallel  int

	Verbose bool
	StdLog  string
	ErrLog  string
}

func defaults() *Config {
	return &Config{
		ChunkSize: transfer.DefaultChunkSize,
		Timeout:   davclient.DefaultTimeout,
		Parallel:  davclient.DefaultParallel,
	}
}

func ParseConfig(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	// intermediate struct mirrors config file keys (simple mapping)
	var raw struct {
		URL       string `toml:"url"`
		Username  string `toml:"username"`
		Password  string `toml:"password"`
		Token     string `toml:"token"`
		ChunkSize string `toml:"chunk-size"`
		Timeout   string `toml:"timeout"`
		Insecure  bool   `toml:"insecure"`
		Proxy     string `toml:"proxy"`
		Parallel  int    `toml:"parallel"`
		Verbose   bool   `toml:"verbose"`
		Std       string `toml:"std"`
		Err       string `toml:"err"`
	}

	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	cfg.URL = raw.URL
	cfg.Username = raw.Username
	cfg.Password = raw.Password
	cfg.Token = raw.Token
	if raw.ChunkSize != "" {
		n, err := parseSize(raw.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("%s: chunk-size: %w", path, err)
		}
		cfg.ChunkSize = n
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: timeout: %w", path, err)
		}
		cfg.Timeout = d
	}
	cfg.Insecure = raw.Insecure
	cfg.Proxy = raw.Proxy
	if raw.Parallel != 0 {
		cfg.Parallel = raw.Parallel
	}
	cfg.Verbose = raw.Verbose
	cfg.StdLog = raw.Std
	cfg.ErrLog = raw.Err

	return cfg, nil
}

// parseSize accepts plain byte counts and humanized sizes like "256KiB".
func parseSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 1<<30 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int(n), nil
}

// ParseCommandLineArgs registers the global options on fs, parses args and
// layers explicitly set flags over the config file. Parsing stops at the
// first positional argument so subcommands can bring their own flags.
func ParseCommandLineArgs(fs *flag.FlagSet, args []string) (*Config, []string, error) {
	var (
		configFPtr  = fs.StringP("config", "c", "", "path to config file")
		userPtr     = fs.StringP("user", "u", "", "username:password (shorthand)")
		tokenPtr    = fs.String("token", "", "OAuth bearer token")
		urlPtr      = fs.String("url", "", "WebDAV server url")
		chunkPtr    = fs.String("chunk-size", "64KiB", "transfer chunk size")
		timeoutPtr  = fs.DurationP("timeout", "t", davclient.DefaultTimeout, "response header timeout")
		insecurePtr = fs.BoolP("insecure", "k", false, "skip TLS certificate verification")
		proxyPtr    = fs.StringP("proxy", "x", "", "proxy url")
		parallelPtr = fs.IntP("parallel", "p", davclient.DefaultParallel, "concurrent files in directory transfers")
		verbosePtr  = fs.BoolP("verbose", "v", false, "enable verbose logging")
		stdlogPtr   = fs.StringP("stdlog", "s", "", "path to standard log file")
		errlogPtr   = fs.StringP("errlog", "e", "", "path to error log file")
	)
	fs.SetInterspersed(false)

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := ParseConfig(*configFPtr)
	if err != nil {
		return nil, nil, err
	}

	if fs.Lookup("url").Changed {
		cfg.URL = *urlPtr
	}
	if fs.Lookup("token").Changed {
		cfg.Token = *tokenPtr
	}
	if fs.Lookup("chunk-size").Changed {
		n, err := parseSize(*chunkPtr)
		if err != nil {
			return nil, nil, fmt.Errorf("--chunk-size: %w", err)
		}
		cfg.ChunkSize = n
	}
	if fs.Lookup("timeout").Changed {
		cfg.Timeout = *timeoutPtr
	}
	if fs.Lookup("insecure").Changed {
		cfg.Insecure = *insecurePtr
	}
	if fs.Lookup("proxy").Changed {
		cfg.Proxy = *proxyPtr
	}
	if fs.Lookup("parallel").Changed {
		cfg.Parallel = *parallelPtr
	}
	if fs.Lookup("verbose").Changed {
		cfg.Verbose = *verbosePtr
	}
	if fs.Lookup("stdlog").Changed {
		cfg.StdLog = *stdlogPtr
	}
	if fs.Lookup("errlog").Changed {
		cfg.ErrLog = *errlogPtr
	}
	if fs.Lookup("user").Changed && *userPtr != "" {
		parts := strings.SplitN(*userPtr, ":", 2)
		cfg.Username = parts[0]
		if len(parts) > 1 {
			cfg.Password = parts[1]
		}
	}

	return cfg, fs.Args(), nil
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("missing server url; pass --url or set url in the config file")
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be positive, got %d", c.Parallel)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Client maps the settings onto a davclient configuration.
func (c *Config) Client(log zerolog.Logger) davclient.Config {
	return davclient.Config{
		URL:       c.URL,
		Username:  c.Username,
		Password:  c.Password,
		Token:     c.Token,
		ChunkSize: c.ChunkSize,
		Timeout:   c.Timeout,
		Insecure:  c.Insecure,
		Proxy:     c.Proxy,
		Parallel:  c.Parallel,
		Logger:    log,
	}
}
