package config

import (
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"gopkg.in/yaml.v2"
)

// Profile is a per-session persisted key/value store implementing the
// schema of spec.md section 6: calibration records, backlash compensator
// settings, and AO step-guider parameters, keyed by mount class. Keys are
// given in the slash-delimited form spec.md uses
// ("/<mount-class>/calibration/xAngle"); Profile translates them to koanf's
// dotted form internally.
type Profile struct {
	mu   sync.Mutex
	data map[string]interface{}
}

// NewProfile returns an empty, unbacked Profile.
func NewProfile() *Profile {
	return &Profile{data: map[string]interface{}{}}
}

// LoadProfile reads a YAML-backed profile from path. A missing file is not
// an error; it yields an empty profile, matching
// it, matching LoadStartup's tolerant handling of a missing config file.
func LoadProfile(path string) (*Profile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		if strings.Contains(err.Error(), "no such") {
			return NewProfile(), nil
		}
		return nil, err
	}
	return &Profile{data: k.All()}, nil
}

// Save writes the profile to path as YAML.
func (p *Profile) Save(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := yaml.Marshal(p.data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (p *Profile) normalize(key string) string {
	key = strings.TrimPrefix(key, "/")
	return strings.ReplaceAll(key, "/", ".")
}

// GetInt returns the integer at key, or def if unset or of the wrong type.
func (p *Profile) GetInt(key string, def int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[p.normalize(key)]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// SetInt stores an integer at key.
func (p *Profile) SetInt(key string, v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.normalize(key)] = v
}

// GetFloat64 returns the float64 at key, or def if unset or of the wrong type.
func (p *Profile) GetFloat64(key string, def float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[p.normalize(key)]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// SetFloat64 stores a float64 at key.
func (p *Profile) SetFloat64(key string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.normalize(key)] = v
}

// GetString returns the string at key, or def if unset or of the wrong type.
func (p *Profile) GetString(key string, def string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[p.normalize(key)]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// SetString stores a string at key.
func (p *Profile) SetString(key string, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.normalize(key)] = v
}

// GetBool returns the bool at key, or def if unset or of the wrong type.
func (p *Profile) GetBool(key string, def bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getBoolLocked(key, def)
}

func (p *Profile) getBoolLocked(key string, def bool) bool {
	v, ok := p.data[p.normalize(key)]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// SetBool stores a bool at key.
func (p *Profile) SetBool(key string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.normalize(key)] = v
}

// GetBoolLegacy reads canonical first, falling back to legacy if canonical
// is unset. This exists specifically for /DecBacklashFixed vs the source's
// differently-cased /DecBackLashFixed sibling (spec.md's Open Questions):
// this module always WRITES the canonical spelling, but still reads the
// legacy one for profiles persisted by older sessions.
func (p *Profile) GetBoolLegacy(canonical, legacy string, def bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[p.normalize(canonical)]; ok {
		return p.getBoolLocked(canonical, def)
	}
	return p.getBoolLocked(legacy, def)
}
