package common

import (
	"errors"
	"testing"
)

type featureSet map[string]bool

func (f featureSet) FeatureEnabled(name string) bool { return f[name] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view should allow: %v", err)
	}
	pauses := StaticPauses{"lending": true}
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(pauses, "staking"); err != nil {
		t.Fatalf("unpaused module rejected: %v", err)
	}
}

func TestGuardFeature(t *testing.T) {
	flags := featureSet{"deposit": true}
	if err := GuardFeature(flags, "deposit"); err != nil {
		t.Fatalf("enabled feature rejected: %v", err)
	}
	if err := GuardFeature(flags, "borrow"); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if err := GuardFeature(nil, "borrow"); err != nil {
		t.Fatalf("nil view should allow: %v", err)
	}
}
