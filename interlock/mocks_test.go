package interlock

import (
	"errors"

	"github.com/brutella/can"
)

type stubSensor struct {
	primary   uint16
	secondary uint16
	err       error
}

func (s *stubSensor) ReadSpeed() (uint16, uint16, error) {
	return s.primary, s.secondary, s.err
}

type reportedFault struct {
	code     FaultCode
	severity FaultSeverity
}

type recordingReporter struct {
	faults []reportedFault
}

func (r *recordingReporter) ReportFault(code FaultCode, severity FaultSeverity) error {
	r.faults = append(r.faults, reportedFault{code, severity})
	return nil
}

func (r *recordingReporter) has(code FaultCode, severity FaultSeverity) bool {
	for _, f := range r.faults {
		if f.code == code && f.severity == severity {
			return true
		}
	}
	return false
}

type doorEventCall struct {
	side  Side
	event DoorEvent
}

type stubDoors struct {
	states [sideCount]DoorState
	events []doorEventCall
	err    error
}

func (d *stubDoors) State(side Side) DoorState { return d.states[side] }
func (d *stubDoors) Position(side Side) uint8  { return 0 }
func (d *stubDoors) IsLocked(side Side) bool   { return false }

func (d *stubDoors) ProcessEvent(side Side, event DoorEvent) error {
	d.events = append(d.events, doorEventCall{side, event})
	return d.err
}

type stubInterlock struct {
	safe, lock, unlock bool
}

func (s *stubInterlock) IsSafeToOpen() bool { return s.safe }
func (s *stubInterlock) ShouldLock() bool   { return s.lock }
func (s *stubInterlock) ShouldUnlock() bool { return s.unlock }

// standstill is the verdict of a stopped train after the unlock dwell
var standstill = stubInterlock{safe: true, lock: false, unlock: true}

type stubActuator struct {
	duty     [sideCount]int8
	locked   [sideCount]bool
	motorErr error
	lockErr  error
}

func (a *stubActuator) SetMotor(side Side, duty int8) error {
	if a.motorErr != nil && duty != 0 {
		return a.motorErr
	}
	a.duty[side] = duty
	return nil
}

func (a *stubActuator) SetLock(side Side, locked bool) error {
	if a.lockErr != nil {
		return a.lockErr
	}
	a.locked[side] = locked
	return nil
}

type stubObstacles struct {
	blocked [sideCount]bool
}

func (o *stubObstacles) Obstacle(side Side) bool { return o.blocked[side] }

var errBusDown = errors.New("bus down")

type fakePublisher struct {
	frames []can.Frame
	err    error
}

func (p *fakePublisher) Publish(frame can.Frame) error {
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePublisher) last() (can.Frame, bool) {
	if len(p.frames) == 0 {
		return can.Frame{}, false
	}
	return p.frames[len(p.frames)-1], true
}
