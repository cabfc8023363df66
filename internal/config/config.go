// Package config resolves run settings from defaults, an optional YAML
// file, WSTRACE_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"wstrace/internal/behinder"
)

const envPrefix = "WSTRACE_"

const (
	LoaderTshark = "tshark"
	LoaderNative = "native"
)

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Input    string   `yaml:"input"`
	Key      string   `yaml:"key"`
	Output   string   `yaml:"output"`
	Loader   string   `yaml:"loader"`
	Tshark   string   `yaml:"tshark"`
	Codecs   []string `yaml:"codecs"`
	Workers  int      `yaml:"workers"`
	Report   bool     `yaml:"report"`
	Progress bool     `yaml:"progress"`
	Log      Log      `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Output:  "output",
		Loader:  LoaderTshark,
		Tshark:  "tshark",
		Workers: 1,
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load returns the defaults overlaid with the file at path (if any) and the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := cfg.decode(data); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyEnv overlays WSTRACE_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	str("INPUT", &c.Input)
	str("KEY", &c.Key)
	str("OUTPUT", &c.Output)
	str("LOADER", &c.Loader)
	str("TSHARK", &c.Tshark)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(envPrefix + "CODECS"); ok {
		c.Codecs = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Codecs = append(c.Codecs, name)
			}
		}
	}
	if v, ok := lookup(envPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sWORKERS", envPrefix)
		}
		c.Workers = n
	}
	for name, dst := range map[string]*bool{"REPORT": &c.Report, "PROGRESS": &c.Progress} {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", envPrefix, name)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the final settings once, before a run.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("no capture file given")
	}
	switch c.Loader {
	case LoaderTshark, LoaderNative:
	default:
		return errors.Errorf("unknown loader %q (want %s or %s)", c.Loader, LoaderTshark, LoaderNative)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Output == "" {
		return errors.New("output directory must not be empty")
	}
	if c.Key != "" {
		if _, err := behinder.ParseKey(c.Key); err != nil {
			return err
		}
	}
	if _, err := behinder.Codecs(c.Codecs...); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
