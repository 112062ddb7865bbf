package orchestrator

import "testing"

func newBareEngine() *Engine {
	return &Engine{cfg: DefaultConfig()}
}

func TestPauseResumeToggleState(t *testing.T) {
	e := newBareEngine()

	if paused, _ := e.Paused(); paused {
		t.Fatalf("a new engine must not start paused")
	}

	e.Pause("operator requested halt")
	if paused, reason := e.Paused(); !paused || reason != "operator requested halt" {
		t.Fatalf("expected paused=true reason set, got paused=%v reason=%q", paused, reason)
	}

	e.Resume()
	if paused, reason := e.Paused(); paused || reason != "" {
		t.Fatalf("expected Resume to clear pause state, got paused=%v reason=%q", paused, reason)
	}
}

func TestUpdateCapitalSettingsIgnoresNonPositiveValues(t *testing.T) {
	e := newBareEngine()
	original := e.cfg

	e.UpdateCapitalSettings(-100, -5)
	if e.cfg.TotalCapitalUSD != original.TotalCapitalUSD || e.cfg.MaxConcurrentPositions != original.MaxConcurrentPositions {
		t.Fatalf("non-positive settings must be ignored, got %+v", e.cfg)
	}

	e.UpdateCapitalSettings(20000, 5)
	if e.cfg.TotalCapitalUSD != 20000 || e.cfg.MaxConcurrentPositions != 5 {
		t.Fatalf("expected updated settings to apply, got %+v", e.cfg)
	}
}
