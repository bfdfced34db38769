package critsec

import "testing"

type countingArch struct {
	enabled      bool
	disableCalls int
	restoreCalls int
}

func (a *countingArch) SaveAndDisable() bool {
	a.disableCalls++
	was := a.enabled
	a.enabled = false
	return was
}

func (a *countingArch) Restore(wasEnabled bool) {
	a.restoreCalls++
	a.enabled = wasEnabled
}

func TestNestedCriticalSectionsRestoreOnce(t *testing.T) {
	a := &countingArch{enabled: true}
	Init(a)
	defer Init(noopArch{})

	outer := Enter()
	inner := Enter()
	Leave(inner)
	if a.restoreCalls != 0 {
		t.Fatalf("inner Leave should not restore, got %d calls", a.restoreCalls)
	}
	Leave(outer)
	if a.restoreCalls != 1 || !a.enabled {
		t.Fatalf("outer Leave should restore interrupts, got calls=%d enabled=%v", a.restoreCalls, a.enabled)
	}
	if Depth() != 0 {
		t.Fatalf("expected depth 0, got %d", Depth())
	}
}

func TestLeaveWithoutEnterPanics(t *testing.T) {
	Init(noopArch{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Leave(true)
}
