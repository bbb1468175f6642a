package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".pywalk"
	configFile string = "config.yml"

	// EnvConfig names a configuration file to use instead of the default
	// one.
	EnvConfig = "PYWALK_CONFIG"
)

// Config defines all configuration options available to be set through the config file.
// Unset options leave the command line defaults alone.
type Config struct {
	// Layout is the name of the layout used when --layout is not given.
	Layout string `yaml:"layout,omitempty"`
	// LayoutAliases are alternative names for layouts, for example
	// py27: cpython-2.7-amd64.
	LayoutAliases map[string]string `yaml:"layout-aliases"`
	// LayoutFiles are additional layout files loaded at startup, in order.
	LayoutFiles []string `yaml:"layout-files"`

	// MaxNodes is the maximum number of objects visited by one walk.
	MaxNodes *int `yaml:"max-nodes,omitempty"`
	// MaxDepth is the maximum distance from the root that is followed.
	MaxDepth *int `yaml:"max-depth,omitempty"`
	// MaxStringLen is the maximum number of characters read from a string.
	MaxStringLen *int `yaml:"max-string-len,omitempty"`
	// MaxSequenceLen is the largest tuple or list length believed.
	MaxSequenceLen *int64 `yaml:"max-sequence-len,omitempty"`
	// MaxMapSlots is the largest dictionary hash table believed.
	MaxMapSlots *int64 `yaml:"max-map-slots,omitempty"`

	// FollowTypes makes type objects part of the walk.
	FollowTypes bool `yaml:"follow-types"`
	// Stop is a Starlark stop expression.
	Stop string `yaml:"stop,omitempty"`
	// Format is the default output format: text, yaml or cbor.
	Format string `yaml:"format,omitempty"`
}

// ResolveLayout returns the layout name an alias stands for, or name
// itself.
func (c *Config) ResolveLayout(name string) string {
	if target, ok := c.LayoutAliases[name]; ok {
		return target
	}
	return name
}

// LoadConfig populates a Config from the file named by $PYWALK_CONFIG or,
// failing that, from ~/.pywalk/config.yml, which is created with
// commented out defaults if it does not exist.
func LoadConfig() (*Config, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return LoadConfigFile(p)
	}
	if err := createConfigPath(); err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}
	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
		f.Close()
	}
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile populates a Config from the file at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return &Config{}, err
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile := os.Getenv(EnvConfig)
	if fullConfigFile == "" {
		var err error
		fullConfigFile, err = GetConfigFilePath(configFile)
		if err != nil {
			return err
		}
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for pywalk.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Layout used when --layout is not given (see "pywalk layouts").
# layout: cpython-2.7-amd64

# Short names for layouts.
layout-aliases:
  # py27: cpython-2.7-amd64

# Additional layout files, loaded in order. A file may use a layout
# defined by an earlier one as its base.
layout-files:
  # - ~/.pywalk/layouts/cpython-2.7-armv7.yml

# Maximum number of objects visited by one walk (0 is unbounded).
# max-nodes: 100000

# Maximum distance from the root that is followed (-1 is unbounded).
# max-depth: -1

# Maximum number of characters read from a string (0 reads all).
# max-string-len: 4096

# Largest container sizes believed before an object is reported as corrupted.
# max-sequence-len: 67108864
# max-map-slots: 67108864

# Uncomment the following line to also walk type objects.
# follow-types: true

# Starlark expression consulted before each object is visited.
# stop: "elapsed > 10"

# Output format: text, yaml or cbor.
# format: text
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
