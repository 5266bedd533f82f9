// Package config 读取分析器的 YAML 配置
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Param is one backend parameter. Value is a bool, int, float64 or string.
type Param struct {
	Key   string
	Value interface{}
}

// Params keeps backend parameters in file order.
type Params []Param

func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: params must be a mapping", node.Line)
	}
	result := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		v, err := scalar(value)
		if err != nil {
			return errors.Wrapf(err, "param %s", key.Value)
		}
		result = append(result, Param{Key: key.Value, Value: v})
	}
	*p = result
	return nil
}

func scalar(node *yaml.Node) (interface{}, error) {
	if node.Kind != yaml.ScalarNode {
		return nil, errors.Errorf("line %d: value must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!bool":
		return strconv.ParseBool(node.Value)
	case "!!int":
		v, err := strconv.ParseInt(node.Value, 0, 64)
		return int(v), err
	case "!!float":
		return strconv.ParseFloat(node.Value, 64)
	}
	return node.Value, nil
}

// String renders a parameter value the way solvers expect it on their
// command line.
func (p Param) String() string {
	switch v := p.Value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	}
	return ""
}

type Backend struct {
	Tactics []string `yaml:"tactics"`
	Params  Params   `yaml:"params"`
}

type Log struct {
	Level    string `yaml:"level"`
	Formulas bool   `yaml:"formulas"`
	Queries  bool   `yaml:"queries"`
}

type Cache struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Solver string `yaml:"solver"`
	// Timeout of one solver call in milliseconds, 0 for none.
	Timeout     int                `yaml:"timeout"`
	Simplify    bool               `yaml:"simplify"`
	Quantifiers bool               `yaml:"quantifiers"`
	UnsatCore   bool               `yaml:"unsatCore"`
	Log         Log                `yaml:"log"`
	Backends    map[string]Backend `yaml:"backends"`
	Cache       Cache              `yaml:"cache"`
	Workers     int                `yaml:"workers"`
}

var solvers = map[string]bool{"yices": true, "z3": true}

func Default() *Config {
	return &Config{
		Solver:      "yices",
		Timeout:     10000,
		Simplify:    true,
		Quantifiers: false,
		UnsatCore:   false,
		Log: Log{
			Level: "info",
		},
		Backends: map[string]Backend{},
		Cache: Cache{
			Enabled: false,
			Path:    "gstate.db",
		},
		Workers: 4,
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("loaded config %s: solver %s, timeout %dms", path, c.Solver, c.Timeout)
	return c, nil
}

func (c *Config) Validate() error {
	if !solvers[c.Solver] {
		return errors.Errorf("unknown solver %q", c.Solver)
	}
	if c.Timeout < 0 {
		return errors.Errorf("negative timeout %d", c.Timeout)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	return nil
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Backend returns the settings of the named backend, empty when the file
// has none.
func (c *Config) Backend(name string) Backend {
	return c.Backends[name]
}
