package interlock

import (
	"context"
	"errors"
	"testing"
	"time"
)

type controllerRig struct {
	ctrl  *Controller
	clock *FakeClock
	pub   *fakePublisher
}

func newControllerRig() *controllerRig {
	return newControllerRigWith(false)
}

func newControllerRigWith(canActuation bool) *controllerRig {
	clock := NewFakeClock(1000)
	pub := &fakePublisher{}
	ctrl := NewController(ControllerOptions{
		Clock:         clock,
		Publisher:     pub,
		CyclePeriodMs: 20,
		DoorTravelMs:  400,
		Logger:        &testLogger{},
		CANActuation:  canActuation,
	})
	return &controllerRig{ctrl: ctrl, clock: clock, pub: pub}
}

// actuation returns the actuation frames sent for side, oldest first
func (r *controllerRig) actuation(side Side) [][8]byte {
	var out [][8]byte
	for _, f := range r.pub.frames {
		if f.ID == CANIDDoorActuation && Side(f.Data[0]) == side {
			out = append(out, f.Data)
		}
	}
	return out
}

// run feeds a speed frame and steps the controller every cycle for ms
func (r *controllerRig) run(speed uint16, ms uint32) {
	for elapsed := uint32(0); elapsed < ms; elapsed += 20 {
		r.ctrl.Port().Handle(NewSpeedFrame(speed, speed))
		r.ctrl.Step(r.clock.NowMs())
		r.clock.Advance(20)
	}
}

func TestController_StandstillOpenAndDepart(t *testing.T) {
	r := newControllerRig()
	doors := r.ctrl.Doors()

	r.run(0, 500)
	if !doors.IsLocked(SideLeft) {
		t.Fatal("doors must stay locked during the unlock dwell")
	}
	r.run(0, 600)
	if doors.IsLocked(SideLeft) || doors.IsLocked(SideRight) {
		t.Fatal("expected doors released after standstill dwell")
	}

	r.ctrl.Port().Handle(NewCommandFrame(CANCmdOpenAll))
	r.run(0, 500)
	for _, side := range sides {
		if doors.State(side) != DoorOpen {
			t.Errorf("%s: expected open, got %s", side, doors.State(side))
		}
	}

	// train departs: doors are forced closed and locked
	r.run(100, 600)
	for _, side := range sides {
		if doors.State(side) != DoorClosed || !doors.IsLocked(side) {
			t.Errorf("%s: expected closed and locked, got %s locked=%v",
				side, doors.State(side), doors.IsLocked(side))
		}
	}

	status := r.ctrl.Status()
	if !status.ShouldLock || status.Speed != 100 {
		t.Errorf("unexpected status %+v", status)
	}
	frame, ok := r.pub.last()
	if !ok || frame.ID != CANIDDoorStatus {
		t.Fatalf("expected door status frames on the bus")
	}
}

func TestController_OpenRefusedWhileMoving(t *testing.T) {
	r := newControllerRig()
	r.run(300, 200)

	if err := r.ctrl.Submit(CommandRequest(DriverCmdOpenAll)); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	r.ctrl.Port().Handle(NewCommandFrame(CANCmdOpenLeft))
	r.run(300, 200)

	for _, side := range sides {
		if r.ctrl.Doors().State(side) != DoorClosed {
			t.Errorf("%s: door opened while moving", side)
		}
	}
	buf := make([]FaultCode, FaultLogSize)
	n := r.ctrl.Faults().ActiveFaults(buf)
	found := false
	for _, code := range buf[:n] {
		if code == FaultDoorEventRejected {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rejected-event fault, got %v", buf[:n])
	}
}

func TestController_EmergencyNeverOpensWhileMoving(t *testing.T) {
	r := newControllerRig()
	r.run(200, 100)
	r.ctrl.Submit(ModeRequest(ModeEmergency))
	r.run(200, 400)

	if r.ctrl.Processor().Mode() != ModeEmergency {
		t.Fatalf("expected emergency mode, got %s", r.ctrl.Processor().Mode())
	}
	for _, side := range sides {
		if r.ctrl.Doors().State(side) != DoorClosed {
			t.Errorf("%s: emergency opened a moving train's door", side)
		}
	}

	// the train stops: evacuation proceeds once the interlock allows
	r.run(0, 1600)
	for _, side := range sides {
		if r.ctrl.Doors().State(side) != DoorOpen {
			t.Errorf("%s: expected open after stop, got %s", side, r.ctrl.Doors().State(side))
		}
	}
}

func TestController_SpeedLossLocks(t *testing.T) {
	r := newControllerRig()
	r.run(0, 100)

	// no more speed frames: sensor data goes stale
	for i := 0; i < 20; i++ {
		r.ctrl.Step(r.clock.NowMs())
		r.clock.Advance(20)
	}
	if !r.ctrl.Monitor().ShouldLock() {
		t.Error("expected lock after speed data loss")
	}
	if !r.ctrl.Faults().IsCriticalFaultActive() {
		t.Error("expected critical fault after speed data loss")
	}
}

func TestController_ChecksumErrorReported(t *testing.T) {
	r := newControllerRig()
	bad := NewCommandFrame(CANCmdOpenAll)
	bad.Data[1] = 0x00
	r.ctrl.Port().Handle(bad)
	r.run(0, 20)

	buf := make([]FaultCode, FaultLogSize)
	n := r.ctrl.Faults().ActiveFaults(buf)
	for _, code := range buf[:n] {
		if code == FaultCANCommandChecksum {
			return
		}
	}
	t.Errorf("expected checksum fault, got %v", buf[:n])
}

func TestController_Watchdog(t *testing.T) {
	r := newControllerRig()
	r.ctrl.Step(1000)
	r.ctrl.Step(1040)
	if r.ctrl.Faults().Count() != 1 {
		t.Fatalf("expected only the speed fault, got %+v", r.ctrl.Faults().Entries())
	}
	r.ctrl.Step(1100)

	buf := make([]FaultCode, FaultLogSize)
	n := r.ctrl.Faults().ActiveFaults(buf)
	for _, code := range buf[:n] {
		if code == FaultCycleOverrun {
			return
		}
	}
	t.Errorf("expected cycle overrun fault, got %v", buf[:n])
}

func TestController_SubmitQueueFull(t *testing.T) {
	r := newControllerRig()
	var err error
	for i := 0; i < requestQueueSize+1; i++ {
		err = r.ctrl.Submit(CommandRequest(DriverCmdCloseAll))
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout on full queue, got %v", err)
	}
}

func TestController_StatusHook(t *testing.T) {
	r := newControllerRig()
	var calls int
	r.ctrl.SetStatusHook(func(DoorStatus) { calls++ })
	r.run(0, 100)
	if calls != 5 {
		t.Errorf("expected 5 hook calls, got %d", calls)
	}
}

func TestController_RunStopsOnCancel(t *testing.T) {
	ctrl := NewController(ControllerOptions{CyclePeriodMs: 10, Logger: &testLogger{}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := ctrl.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestController_CANActuation(t *testing.T) {
	r := newControllerRigWith(true)

	r.run(0, 1100)
	r.ctrl.Port().Handle(NewCommandFrame(CANCmdOpenLeft))
	r.run(0, 500)
	r.run(100, 600)

	if r.ctrl.Doors().State(SideLeft) != DoorClosed || !r.ctrl.Doors().IsLocked(SideLeft) {
		t.Fatalf("expected left closed and locked, got %s", r.ctrl.Doors().State(SideLeft))
	}

	// release, open, stop open, close, stop closed, lock
	expected := [][8]byte{
		{0, 0, 0},
		{0, 100, 0},
		{0, 0, 0},
		{0, 0x9C, 0},
		{0, 0, 0},
		{0, 0, 1},
	}
	got := r.actuation(SideLeft)
	if len(got) != len(expected) {
		t.Fatalf("expected %d actuation frames, got %d: % X", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("frame %d: expected % X, got % X", i, expected[i], got[i])
		}
	}

	// right leaf was only released and locked again
	right := r.actuation(SideRight)
	if len(right) != 2 || right[0][2] != 0 || right[1][2] != 1 {
		t.Errorf("unexpected right actuation % X", right)
	}
}

func TestController_StatusCarriesLinkCounters(t *testing.T) {
	r := newControllerRig()
	var last DoorStatus
	r.ctrl.SetStatusHook(func(s DoorStatus) { last = s })
	r.run(0, 100)

	if last.CAN.RxFrames != 5 {
		t.Errorf("expected 5 received frames, got %d", last.CAN.RxFrames)
	}
	if last.StatusTx != 2 || last.CAN.TxFrames != 2 {
		t.Errorf("expected 2 status frames, got %d/%d", last.StatusTx, last.CAN.TxFrames)
	}
	if last.StatusTxErrors != 0 || last.CAN.Errors != 0 {
		t.Errorf("expected no errors, got %d/%d", last.StatusTxErrors, last.CAN.Errors)
	}
}
