package config_test

import (
	"testing"

	"github.com/brandondube/goguide/config"
)

func TestProfileGetSetInt(t *testing.T) {
	p := config.NewProfile()
	p.SetInt("/EQMount/DecBacklashPulse", 250)
	if got := p.GetInt("/EQMount/DecBacklashPulse", 0); got != 250 {
		t.Errorf("GetInt() = %v, want 250", got)
	}
	if got := p.GetInt("/EQMount/Missing", 42); got != 42 {
		t.Errorf("GetInt() for missing key = %v, want default 42", got)
	}
}

func TestProfileLegacyBoolFallback(t *testing.T) {
	p := config.NewProfile()
	p.SetBool("/EQMount/DecBackLashFixed", true)
	got := p.GetBoolLegacy("/EQMount/DecBacklashFixed", "/EQMount/DecBackLashFixed", false)
	if !got {
		t.Errorf("GetBoolLegacy() = false, want true read from legacy key")
	}

	p2 := config.NewProfile()
	p2.SetBool("/EQMount/DecBacklashFixed", true)
	got2 := p2.GetBoolLegacy("/EQMount/DecBacklashFixed", "/EQMount/DecBackLashFixed", false)
	if !got2 {
		t.Errorf("GetBoolLegacy() = false, want true read from canonical key")
	}
}

func TestLoadProfileMissingFileIsEmpty(t *testing.T) {
	p, err := config.LoadProfile("/nonexistent/path/profile.yaml")
	if err != nil {
		t.Fatalf("LoadProfile() error = %v, want nil for missing file", err)
	}
	if got := p.GetInt("/x/y", 7); got != 7 {
		t.Errorf("GetInt() on empty profile = %v, want default 7", got)
	}
}
