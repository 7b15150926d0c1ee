package common

import "errors"

var (
	ErrModulePaused    = errors.New("module paused")
	ErrFeatureDisabled = errors.New("feature disabled")
)

// PauseView exposes the operator kill switch for whole modules.
type PauseView interface {
	IsPaused(module string) bool
}

// FeatureView exposes governance-controlled feature flags.
type FeatureView interface {
	FeatureEnabled(feature string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardFeature rejects calls into a feature that has been switched off. A nil
// view allows everything.
func GuardFeature(v FeatureView, feature string) error {
	if v == nil || feature == "" {
		return nil
	}
	if !v.FeatureEnabled(feature) {
		return ErrFeatureDisabled
	}
	return nil
}

// StaticPauses is a fixed PauseView keyed by module name.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
