// Package config loads the taskclock YAML configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"taskclock/internal/domain"
)

// Duration is a time.Duration written as a Go duration string ("1s", "250ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Job is a task created at startup from the config file.
type Job struct {
	Name      string         `yaml:"name"`
	Handler   string         `yaml:"handler"`
	Kind      string         `yaml:"kind"`
	Delay     Duration       `yaml:"delay"`
	Cron      string         `yaml:"cron"`
	Every     Duration       `yaml:"every"`
	Triggers  int            `yaml:"triggers"`
	AfterDone bool           `yaml:"after_done"`
	Payload   map[string]any `yaml:"payload"`
}

type Config struct {
	Addr          string   `yaml:"addr"`
	DB            string   `yaml:"db"`
	Workers       int      `yaml:"workers"`
	Mode          string   `yaml:"mode"`
	SweepInterval Duration `yaml:"sweep_interval"`
	Timezone      string   `yaml:"timezone"`
	LogLevel      string   `yaml:"log_level"`
	Debug         bool     `yaml:"debug"`
	Retention     Duration `yaml:"retention"`
	NATS          NATS     `yaml:"nats"`
	Jobs          []Job    `yaml:"jobs"`
}

func Default() Config {
	return Config{
		Addr:          ":8080",
		DB:            "taskclock.db",
		Workers:       8,
		Mode:          "interval",
		SweepInterval: Duration(time.Second),
		Timezone:      "Local",
		LogLevel:      "info",
		Retention:     Duration(7 * 24 * time.Hour),
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := Parse(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes b into cfg and validates the result. Unknown keys are errors.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Mode {
	case "interval", "timeout":
	default:
		return fmt.Errorf("mode %q: want interval or timeout", c.Mode)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for i, j := range c.Jobs {
		if _, err := j.Spec(); err != nil {
			return fmt.Errorf("jobs[%d] %s: %w", i, j.Name, err)
		}
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Level falls back to info for an unparsable level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Spec converts the job into the same shape the admin API accepts.
func (j Job) Spec() (domain.TaskSpec, error) {
	if j.Handler == "" {
		return domain.TaskSpec{}, fmt.Errorf("handler is required")
	}
	kind := j.Kind
	if kind == "" {
		kind = "interval"
	}
	if kind != "timeout" && kind != "interval" {
		return domain.TaskSpec{}, fmt.Errorf("kind %q: want timeout or interval", kind)
	}
	typ := j.Name
	if typ == "" {
		typ = j.Handler
	}
	spec := domain.TaskSpec{
		Handler:    j.Handler,
		Type:       typ,
		Kind:       kind,
		DelayMs:    j.Delay.Std().Milliseconds(),
		Cron:       j.Cron,
		IntervalMs: j.Every.Std().Milliseconds(),
		Triggers:   j.Triggers,
		AfterDone:  j.AfterDone,
	}
	if spec.Cron == "" {
		switch {
		case kind == "timeout" && spec.DelayMs <= 0:
			return domain.TaskSpec{}, fmt.Errorf("timeout job needs delay or cron")
		case kind == "interval" && spec.IntervalMs <= 0:
			return domain.TaskSpec{}, fmt.Errorf("interval job needs every or cron")
		}
	}
	if j.Payload != nil {
		b, err := json.Marshal(j.Payload)
		if err != nil {
			return domain.TaskSpec{}, fmt.Errorf("payload: %w", err)
		}
		spec.Payload = b
	}
	return spec, nil
}
