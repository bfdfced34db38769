package timer

import (
	"testing"

	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ipc"
)

func TestTickFiresArmedTimerOnce(t *testing.T) {
	port, code := ipc.Create("")
	if !code.Ok() {
		t.Fatalf("ipc.Create: %v", code)
	}

	timer := Create(port, 42)
	timer.Arm(100)

	Tick(50)
	if port.MessageCount() != 0 {
		t.Fatal("expected no event before the deadline")
	}

	Tick(100)
	if port.MessageCount() != 1 {
		t.Fatalf("expected exactly one event at the deadline, got %d", port.MessageCount())
	}

	receiver := handle.NewTable()
	msg, code := port.Receive(receiver)
	if !code.Ok() {
		t.Fatalf("Receive: %v", code)
	}
	if msg.Data[0] != 42 || msg.Data[1] != 100 {
		t.Fatalf("unexpected event payload: %+v", msg.Data)
	}

	Tick(200)
	if port.MessageCount() != 0 {
		t.Fatal("expected the timer to have disarmed itself after firing")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	port, _ := ipc.Create("")
	timer := Create(port, 1)
	timer.Arm(10)
	timer.Cancel()

	Tick(100)
	if port.MessageCount() != 0 {
		t.Fatal("expected a cancelled timer not to fire")
	}
}

func TestRemoveDropsTimerFromRegistry(t *testing.T) {
	port, _ := ipc.Create("")
	timer := Create(port, 1)
	timer.Arm(1)

	Remove(timer)
	Tick(100)
	if port.MessageCount() != 0 {
		t.Fatal("expected a removed timer not to fire on Tick")
	}
}
