package splatsort

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Algorithm selects the preferred ordering engine. Whatever is chosen, the
// fallback chain below it stays in place; "none" opts out of sorting entirely
// (maximum throughput, visually wrong blending) and must be requested
// explicitly.
type Algorithm string

const (
	AlgorithmAuto      Algorithm = "auto"
	AlgorithmBitonic   Algorithm = "bitonic"
	AlgorithmRadix     Algorithm = "radix"
	AlgorithmReference Algorithm = "reference"
	AlgorithmNone      Algorithm = "none"
)

// Config fixes the sorter's behavior at construction. Count is redundant when
// constructing from a position slice and exists for file-driven setups; when
// non-zero it must match the slice length.
type Config struct {
	Count         int       `toml:"count"`
	FrustumMargin float32   `toml:"frustumMargin"`
	Epsilon       float32   `toml:"epsilon"`
	Cadence       int       `toml:"cadence"`
	Workers       int       `toml:"workers"`
	Algorithm     Algorithm `toml:"algorithm"`
}

const defaultEpsilon = 1e-4

func (c Config) withDefaults() Config {
	if c.Epsilon <= 0 {
		c.Epsilon = defaultEpsilon
	}
	if c.Cadence < 1 {
		c.Cadence = 1
	}
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmAuto
	}
	return c
}

func (c Config) validate() error {
	switch c.Algorithm {
	case AlgorithmAuto, AlgorithmBitonic, AlgorithmRadix, AlgorithmReference, AlgorithmNone:
	default:
		return fmt.Errorf("unknown algorithm %q", c.Algorithm)
	}
	return nil
}

// LoadConfig reads a TOML config file for the bench harness.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
