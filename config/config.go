// Package config provides the two configuration surfaces of this module:
// process startup configuration (serial port, listen address, log
// verbosity), loaded with koanf, and a per-profile persistence store
// implementing the key schema of spec.md section 6.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Startup holds the parameters needed to bring up a guideworker process:
// which transport to use for the mount/AO, where to listen for the
// monitoring HTTP surface, and how chatty to be.
type Startup struct {
	// MountAddr is the network or serial device address of the mount,
	// e.g. "192.168.1.40:9999" or "/dev/ttyUSB0".
	MountAddr string `koanf:"mount_addr" yaml:"mount_addr"`
	// MountSerial selects serial transport over TCP for MountAddr.
	MountSerial bool `koanf:"mount_serial" yaml:"mount_serial"`
	// AOAddr is the address of the adaptive-optics unit, empty if none is
	// present (mount-only rig).
	AOAddr string `koanf:"ao_addr" yaml:"ao_addr"`
	// HTTPAddr is the listen address for the read-only monitoring server.
	HTTPAddr string `koanf:"http_addr" yaml:"http_addr"`
	// ProfileDir is the directory profile YAML files are read from/written to.
	ProfileDir string `koanf:"profile_dir" yaml:"profile_dir"`
	// Verbose enables additional per-frame logging.
	Verbose bool `koanf:"verbose" yaml:"verbose"`
}

// DefaultStartup returns the zero-config defaults used when no config file
// is present, matching the teacher's pattern of seeding koanf from a
// structs.Provider of these defaults before loading a file on top.
func DefaultStartup() Startup {
	return Startup{
		MountAddr:  "127.0.0.1:9999",
		HTTPAddr:   ":8090",
		ProfileDir: "./profiles",
	}
}

// LoadStartup loads a Startup from path (YAML), falling back to
// DefaultStartup for any key the file does not set. A missing file is not
// an error.
func LoadStartup(path string) (Startup, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultStartup(), "koanf"), nil); err != nil {
		return Startup{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			return Startup{}, err
		}
	}
	var s Startup
	if err := k.Unmarshal("", &s); err != nil {
		return Startup{}, err
	}
	return s, nil
}
