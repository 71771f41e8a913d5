package interlock

import (
	"errors"
	"testing"
)

const testTravelMs = 1000

type doorRig struct {
	fsm       *DoorFSM
	interlock *stubInterlock
	actuator  *stubActuator
	obstacles *stubObstacles
	faults    *recordingReporter
}

func newDoorRig(il stubInterlock) *doorRig {
	r := &doorRig{
		interlock: &il,
		actuator:  &stubActuator{},
		obstacles: &stubObstacles{},
		faults:    &recordingReporter{},
	}
	r.fsm = NewDoorFSM(r.interlock, DoorFSMOptions{
		TravelMs:  testTravelMs,
		Actuator:  r.actuator,
		Obstacles: r.obstacles,
		Faults:    r.faults,
		Logger:    &testLogger{},
	})
	return r
}

// openLeft releases and fully opens the left leaf, returning the time reached
func (r *doorRig) openLeft(t *testing.T, now uint32) uint32 {
	t.Helper()
	r.fsm.Update(now)
	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); err != nil {
		t.Fatalf("open: unexpected error %v", err)
	}
	now += testTravelMs
	r.fsm.Update(now)
	if r.fsm.State(SideLeft) != DoorOpen {
		t.Fatalf("expected open, got %s", r.fsm.State(SideLeft))
	}
	return now
}

func TestDoorFSM_InitClosedAndLocked(t *testing.T) {
	r := newDoorRig(standstill)
	for _, side := range sides {
		if r.fsm.State(side) != DoorClosed {
			t.Errorf("%s: expected closed, got %s", side, r.fsm.State(side))
		}
		if !r.fsm.IsLocked(side) {
			t.Errorf("%s: expected locked", side)
		}
		if r.fsm.Position(side) != 0 {
			t.Errorf("%s: expected position 0", side)
		}
	}
}

func TestDoorFSM_InvalidArguments(t *testing.T) {
	r := newDoorRig(standstill)
	if err := r.fsm.ProcessEvent(Side(5), EventOpenCmd); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if err := r.fsm.ProcessEvent(SideLeft, DoorEvent(9)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if err := r.fsm.ProcessEvent(SideLeft, EventNone); err != nil {
		t.Errorf("expected NONE to be a no-op, got %v", err)
	}
	if r.fsm.State(Side(5)) != DoorClosed || !r.fsm.IsLocked(Side(5)) || r.fsm.Position(Side(5)) != 0 {
		t.Error("out-of-range side must report closed and locked")
	}

	var nilFSM *DoorFSM
	if err := nilFSM.ProcessEvent(SideLeft, EventOpenCmd); !errors.Is(err, ErrNullPointer) {
		t.Errorf("expected ErrNullPointer, got %v", err)
	}
}

func TestDoorFSM_OpenCycle(t *testing.T) {
	r := newDoorRig(standstill)
	r.fsm.Update(0)
	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.fsm.State(SideLeft) != DoorOpening {
		t.Fatalf("expected opening, got %s", r.fsm.State(SideLeft))
	}
	if r.fsm.IsLocked(SideLeft) || r.actuator.locked[SideLeft] {
		t.Error("expected lock released")
	}
	if r.actuator.duty[SideLeft] != motorOpenDuty {
		t.Errorf("expected open duty, got %d", r.actuator.duty[SideLeft])
	}

	r.fsm.Update(500)
	if pos := r.fsm.Position(SideLeft); pos != 50 {
		t.Errorf("expected position 50, got %d", pos)
	}

	r.fsm.Update(1000)
	if r.fsm.State(SideLeft) != DoorOpen || r.fsm.Position(SideLeft) != 100 {
		t.Errorf("expected open at 100, got %s at %d", r.fsm.State(SideLeft), r.fsm.Position(SideLeft))
	}
	if r.actuator.duty[SideLeft] != 0 {
		t.Error("expected motor stopped when open")
	}
	if r.fsm.State(SideRight) != DoorClosed {
		t.Error("right leaf must be untouched")
	}

	// repeated open is accepted without effect
	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestDoorFSM_CloseCycle(t *testing.T) {
	r := newDoorRig(standstill)
	now := r.openLeft(t, 0)

	if err := r.fsm.ProcessEvent(SideLeft, EventCloseCmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.fsm.State(SideLeft) != DoorClosing {
		t.Fatalf("expected closing, got %s", r.fsm.State(SideLeft))
	}
	r.fsm.Update(now + 250)
	if pos := r.fsm.Position(SideLeft); pos != 75 {
		t.Errorf("expected position 75, got %d", pos)
	}
	r.fsm.Update(now + testTravelMs)
	if r.fsm.State(SideLeft) != DoorClosed || r.fsm.Position(SideLeft) != 0 {
		t.Errorf("expected closed at 0, got %s at %d", r.fsm.State(SideLeft), r.fsm.Position(SideLeft))
	}
}

func TestDoorFSM_OpenRefusedByInterlock(t *testing.T) {
	tests := []struct {
		name string
		il   stubInterlock
	}{
		{"moving", stubInterlock{safe: false, lock: true, unlock: false}},
		{"not safe", stubInterlock{safe: false, lock: false, unlock: true}},
		{"lock demanded", stubInterlock{safe: true, lock: true, unlock: true}},
		{"locked without unlock", stubInterlock{safe: true, lock: false, unlock: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDoorRig(tt.il)
			r.fsm.Update(0)
			if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
			if r.fsm.State(SideLeft) != DoorClosed || !r.fsm.IsLocked(SideLeft) {
				t.Error("door must stay closed and locked")
			}
		})
	}
}

func TestDoorFSM_ReleasedAfterUnlockDwell(t *testing.T) {
	r := newDoorRig(stubInterlock{safe: true, lock: false, unlock: false})
	r.fsm.Update(0)
	if !r.fsm.IsLocked(SideLeft) {
		t.Fatal("expected locked before dwell")
	}
	r.interlock.unlock = true
	r.fsm.Update(20)
	if r.fsm.IsLocked(SideLeft) || r.fsm.IsLocked(SideRight) {
		t.Error("expected both leaves released")
	}
}

func TestDoorFSM_ShouldLockForcesClose(t *testing.T) {
	r := newDoorRig(standstill)
	now := r.openLeft(t, 0)

	r.interlock.safe, r.interlock.lock, r.interlock.unlock = false, true, false
	r.fsm.Update(now + 10)
	if r.fsm.State(SideLeft) != DoorClosing {
		t.Fatalf("expected forced closing, got %s", r.fsm.State(SideLeft))
	}
	r.fsm.Update(now + 10 + testTravelMs)
	if r.fsm.State(SideLeft) != DoorClosed {
		t.Fatalf("expected closed, got %s", r.fsm.State(SideLeft))
	}
	if !r.fsm.IsLocked(SideLeft) || !r.actuator.locked[SideLeft] {
		t.Error("expected door locked once closed")
	}
}

func TestDoorFSM_Obstruction(t *testing.T) {
	r := newDoorRig(standstill)
	now := r.openLeft(t, 0)

	r.fsm.ProcessEvent(SideLeft, EventCloseCmd)
	r.fsm.Update(now + 400)
	r.obstacles.blocked[SideLeft] = true
	r.fsm.Update(now + 500)
	if r.fsm.State(SideLeft) != DoorObstructed {
		t.Fatalf("expected obstructed, got %s", r.fsm.State(SideLeft))
	}
	if r.actuator.duty[SideLeft] != 0 {
		t.Error("expected motor stopped when obstructed")
	}
	if !r.faults.has(FaultDoorObstruction, SeverityMinor) {
		t.Error("expected obstruction fault")
	}
	pos := r.fsm.Position(SideLeft)

	r.fsm.Update(now + 900)
	if r.fsm.Position(SideLeft) != pos {
		t.Error("obstructed door must not move")
	}

	r.obstacles.blocked[SideLeft] = false
	r.fsm.Update(now + 1000)
	if r.fsm.State(SideLeft) != DoorClosing {
		t.Errorf("expected closing resumed, got %s", r.fsm.State(SideLeft))
	}
}

func TestDoorFSM_ReopenWhileClosing(t *testing.T) {
	r := newDoorRig(standstill)
	now := r.openLeft(t, 0)
	r.fsm.ProcessEvent(SideLeft, EventCloseCmd)
	r.fsm.Update(now + 300)

	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.fsm.State(SideLeft) != DoorOpening {
		t.Errorf("expected opening, got %s", r.fsm.State(SideLeft))
	}
	r.fsm.Update(now + 600)
	if r.fsm.State(SideLeft) != DoorOpen {
		t.Errorf("expected open after remaining travel, got %s", r.fsm.State(SideLeft))
	}
}

func TestDoorFSM_ActuatorFailure(t *testing.T) {
	r := newDoorRig(standstill)
	r.fsm.Update(0)
	r.actuator.motorErr = errors.New("driver overcurrent")

	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); !errors.Is(err, ErrHardwareFailure) {
		t.Fatalf("expected ErrHardwareFailure, got %v", err)
	}
	if r.fsm.State(SideLeft) != DoorFault {
		t.Errorf("expected fault state, got %s", r.fsm.State(SideLeft))
	}
	if !r.faults.has(FaultDoorActuator, SeverityCritical) {
		t.Error("expected critical actuator fault")
	}
	if err := r.fsm.ProcessEvent(SideLeft, EventOpenCmd); !errors.Is(err, ErrInvalidState) {
		t.Errorf("faulted door must refuse open, got %v", err)
	}

	r.actuator.motorErr = nil
	if err := r.fsm.ProcessEvent(SideLeft, EventCloseCmd); err != nil {
		t.Errorf("close must recover a faulted door, got %v", err)
	}
	if r.fsm.State(SideLeft) != DoorClosing {
		t.Errorf("expected closing, got %s", r.fsm.State(SideLeft))
	}
}
