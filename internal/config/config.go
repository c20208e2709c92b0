package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/digitalcybersoft/mussh/internal/pathutil"
)

// Output modes accepted in defaults.output.
const (
	OutputPrefix  = "prefix"
	OutputBlock   = "block"
	OutputJSON    = "json"
	OutputGrouped = "grouped"
)

// Config represents the top-level mussh configuration.
type Config struct {
	Defaults Defaults         `yaml:"defaults"`
	Groups   map[string]Group `yaml:"groups" validate:"dive,keys,groupname,endkeys"`
}

// Group defines a named set of hosts with optional connection overrides.
type Group struct {
	Hosts        []string `yaml:"hosts" validate:"min=1,dive,required"`
	Hostname     string   `yaml:"hostname,omitempty"`
	User         string   `yaml:"user,omitempty"`
	Port         int      `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	IdentityFile string   `yaml:"identity_file,omitempty"`
	ProxyJump    string   `yaml:"proxy_jump,omitempty"`
}

// Defaults holds default settings. Command-line flags override them.
type Defaults struct {
	Concurrency    int      `yaml:"concurrency" validate:"gte=0,lte=256"`
	Timeout        Duration `yaml:"timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	Output         string   `yaml:"output" validate:"omitempty,oneof=prefix block json grouped"`
	StopOnFailure  bool     `yaml:"stop_on_failure"`
	Retries        int      `yaml:"retries" validate:"gte=0,lte=10"`
	User           string   `yaml:"user,omitempty"`
	Shell          string   `yaml:"shell,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

var (
	validate    = validator.New()
	groupNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	_ = validate.RegisterValidation("groupname", func(fl validator.FieldLevel) bool {
		return groupNameRe.MatchString(fl.Field().String())
	})
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Groups: make(map[string]Group),
		Defaults: Defaults{
			Concurrency: 20,
			Timeout:     Duration{30 * time.Second},
			Output:      OutputPrefix,
			Shell:       "sh",
		},
	}
}

// DefaultConfigPath is $XDG_CONFIG_HOME/mussh/config.yaml, or the same
// under ~/.config. It is empty when no home directory is known.
func DefaultConfigPath() string {
	if dir := pathutil.ConfigDir("mussh"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ""
}

// Load reads the YAML file at path over DefaultConfig and validates the
// result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(pathutil.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Groups == nil {
		cfg.Groups = make(map[string]Group)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads DefaultConfigPath. A missing file yields DefaultConfig.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: value %v fails %q", fe.Namespace(), fe.Value(), tagWithParam(fe))
		}
		return err
	}

	if c.Defaults.Timeout.Duration < 0 {
		return fmt.Errorf("default timeout must be non-negative, got %s", c.Defaults.Timeout)
	}
	if c.Defaults.ConnectTimeout.Duration < 0 {
		return fmt.Errorf("default connect_timeout must be non-negative, got %s", c.Defaults.ConnectTimeout)
	}
	for name, group := range c.Groups {
		for _, h := range group.Hosts {
			if h == name {
				return fmt.Errorf("group %q lists itself as a host", name)
			}
		}
	}

	return nil
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
