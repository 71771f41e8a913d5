package interlock

import "github.com/brutella/can"

// Clock supplies a monotonic millisecond counter. It wraps at 2^32, so
// elapsed time must always be computed as now - then on uint32.
type Clock interface {
	NowMs() uint32
}

// SpeedSensor reads the two redundant speed channels in units of 0.1 km/h
type SpeedSensor interface {
	ReadSpeed() (primary, secondary uint16, err error)
}

// FaultReporter is the write side of the fault registry used by the
// monitor, the command processor and the door FSM.
type FaultReporter interface {
	ReportFault(code FaultCode, severity FaultSeverity) error
}

// DoorController is the door FSM as seen by the command processor and
// the status reporter.
type DoorController interface {
	// State returns the FSM state of one side
	State(side Side) DoorState

	// Position returns 0 (closed) to 100 (fully open)
	Position(side Side) uint8

	// IsLocked reports whether the lock of one side is engaged
	IsLocked(side Side) bool

	// ProcessEvent delivers an open/close command to one side
	ProcessEvent(side Side, event DoorEvent) error
}

// Interlock is the safety verdict consumed by the door FSM
type Interlock interface {
	IsSafeToOpen() bool
	ShouldLock() bool
	ShouldUnlock() bool
}

// DoorActuator drives the door motors and locks
type DoorActuator interface {
	// SetMotor sets the signed duty cycle, -100 (close) to +100 (open)
	SetMotor(side Side, duty int8) error

	SetLock(side Side, locked bool) error
}

// ObstacleSensor reports an obstruction in the door way
type ObstacleSensor interface {
	Obstacle(side Side) bool
}

// FramePublisher transmits CAN frames. *can.Bus satisfies it.
type FramePublisher interface {
	Publish(frame can.Frame) error
}

// FrameSender is the transmit side of the CAN port
type FrameSender interface {
	Send(frame can.Frame) error
}
