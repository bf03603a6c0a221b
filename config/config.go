// Package config loads board profiles for the host tools and the simulator.
//
// A profile describes the flash layout of a device and the bootloader
// settings, for example:
//
//	flash:
//	  base: 0x08000000
//	  size: 1M
//	  block: 16K
//	application:
//	  start: 0x08010000
//	  end: 0x08100000
//	max_segment_size: 32K
//	max_update_attempts: 10
//	public_key: update.pub
//
// Sizes accept plain integers or byte units such as 16K and 1M.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-mbin/mbin"
)

// Size is a byte count that unmarshals from an integer or a unit string.
type Size uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var n uint32
	if err := node.Decode(&n); err == nil {
		*s = Size(n)
		return nil
	}

	var str string
	err := node.Decode(&str)
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	b, err := bytefmt.ToBytes(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	if b > 0xFFFFFFFF {
		return fmt.Errorf("size %q exceeds 4 GiB", str)
	}

	*s = Size(b)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Size) String() string {
	return bytefmt.ByteSize(uint64(s))
}

// Flash describes the flash array.
type Flash struct {
	Base  uint32 `yaml:"base"`
	Size  Size   `yaml:"size"`
	Block Size   `yaml:"block"`
}

// Application describes the application region.
type Application struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// Paths locates the files of the simulator. Relative paths are resolved
// against the directory of the profile.
type Paths struct {
	Flash  string `yaml:"flash"`
	Store  string `yaml:"store"`
	Images string `yaml:"images"`
}

// Config is a board profile.
type Config struct {
	Flash             Flash       `yaml:"flash"`
	Application       Application `yaml:"application"`
	MaxSegmentSize    Size        `yaml:"max_segment_size"`
	MaxUpdateAttempts int         `yaml:"max_update_attempts"`
	PollTimeout       uint32      `yaml:"poll_timeout_ms"`
	ResetAfterUpdate  bool        `yaml:"reset_after_update"`
	PublicKey         string      `yaml:"public_key,omitempty"`
	Version           string      `yaml:"version,omitempty"`
	Paths             Paths       `yaml:"paths"`
}

// Default returns a profile for a 1 MiB device with a 64 KiB bootloader.
func Default() *Config {
	return &Config{
		Flash: Flash{
			Base:  0x08000000,
			Size:  1024 * 1024,
			Block: 16 * 1024,
		},
		Application: Application{
			Start: 0x08010000,
			End:   0x08100000,
		},
		MaxSegmentSize:    mbin.DefaultMaxSegmentSize,
		MaxUpdateAttempts: 10,
		PollTimeout:       1000,
		Paths: Paths{
			Flash:  "flash.bin",
			Store:  "store.yaml",
			Images: ".",
		},
	}
}

// Load reads the profile at path on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	cfg.resolve(filepath.Dir(path))

	return cfg, nil
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	c.PublicKey = abs(c.PublicKey)
	c.Paths.Flash = abs(c.Paths.Flash)
	c.Paths.Store = abs(c.Paths.Store)
	c.Paths.Images = abs(c.Paths.Images)
}

// Save writes the profile to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks if the profile is consistent.
func (c *Config) Validate() error {
	if c.Flash.Size == 0 {
		return fmt.Errorf("flash size must be greater than 0")
	}
	if c.Flash.Block == 0 || c.Flash.Size%c.Flash.Block != 0 {
		return fmt.Errorf("flash size %s is not a multiple of block size %s", c.Flash.Size, c.Flash.Block)
	}
	if uint64(c.Flash.Base)+uint64(c.Flash.Size) > 1<<32 {
		return fmt.Errorf("flash exceeds the address space")
	}

	region := c.Region()
	if !region.Valid() {
		return fmt.Errorf("invalid application region %s", region)
	}
	if region.Start < c.Flash.Base || uint64(region.End) > uint64(c.Flash.Base)+uint64(c.Flash.Size) {
		return fmt.Errorf("application region %s outside flash", region)
	}
	if (region.Start-c.Flash.Base)%uint32(c.Flash.Block) != 0 || (region.End-c.Flash.Base)%uint32(c.Flash.Block) != 0 {
		return fmt.Errorf("application region %s not aligned to %s blocks", region, c.Flash.Block)
	}

	if c.MaxSegmentSize == 0 || c.MaxSegmentSize > mbin.MaxFieldLength-mbin.DeflatedPrefixSize {
		return fmt.Errorf("max segment size must be between 1 and %d", mbin.MaxFieldLength-mbin.DeflatedPrefixSize)
	}
	if c.MaxUpdateAttempts <= 0 {
		return fmt.Errorf("max update attempts must be greater than 0")
	}

	return nil
}

// Region returns the application region.
func (c *Config) Region() mbin.Region {
	return mbin.Region{Start: c.Application.Start, End: c.Application.End}
}

// ParseOptions returns the image validation options of the profile.
func (c *Config) ParseOptions() mbin.Options {
	return mbin.Options{
		Region:         c.Region(),
		MaxSegmentSize: int(c.MaxSegmentSize),
	}
}
