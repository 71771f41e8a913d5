package interlock

import "errors"

// Error taxonomy shared by every kernel component
var (
	ErrNullPointer          = errors.New("null pointer")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrInvalidData          = errors.New("invalid data")
	ErrInvalidState         = errors.New("invalid state")
	ErrCommunicationFailure = errors.New("communication failure")
	ErrHardwareFailure      = errors.New("hardware failure")
	ErrTimeout              = errors.New("timeout")
)

const (
	// CAN IDs
	CANIDSpeedData     = 0x100
	CANIDDoorCommand   = 0x200
	CANIDDoorStatus    = 0x201
	CANIDDoorActuation = 0x202

	MaxStandardCANID = 0x7FF
	MaxCANLength     = 8
)

// Side identifies one door leaf of the car
type Side uint8

const (
	SideLeft Side = iota
	SideRight
	sideCount
)

var sides = [sideCount]Side{SideLeft, SideRight}

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	}
	return "unknown"
}

// DoorEvent is what the command processor hands to the door FSM
type DoorEvent uint8

const (
	EventNone DoorEvent = iota
	EventOpenCmd
	EventCloseCmd
)

func (e DoorEvent) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventOpenCmd:
		return "open"
	case EventCloseCmd:
		return "close"
	}
	return "unknown"
}

// DoorState is the per-side FSM state. Locking is tracked separately.
type DoorState uint8

const (
	DoorClosed DoorState = iota
	DoorOpening
	DoorOpen
	DoorClosing
	DoorObstructed
	DoorFault
)

var doorStateNames = map[DoorState]string{
	DoorClosed:     "closed",
	DoorOpening:    "opening",
	DoorOpen:       "open",
	DoorClosing:    "closing",
	DoorObstructed: "obstructed",
	DoorFault:      "fault",
}

func (s DoorState) String() string {
	if name, ok := doorStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Mode is the operating mode owned by the command processor
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeManual
	ModeEmergency
	ModeDiagnostic
	ModeDegraded
	modeCount
)

var modeNames = [modeCount]string{"normal", "manual", "emergency", "diagnostic", "degraded"}

func (m Mode) String() string {
	if m < modeCount {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode maps a mode name to its Mode
func ParseMode(name string) (Mode, error) {
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return ModeNormal, ErrInvalidParameter
}

// DriverCommand is a command issued from the driver's desk
type DriverCommand uint8

const (
	DriverCmdNone DriverCommand = iota
	DriverCmdOpenLeft
	DriverCmdOpenRight
	DriverCmdOpenAll
	DriverCmdCloseLeft
	DriverCmdCloseRight
	DriverCmdCloseAll
	DriverCmdEmergencyEvac
	driverCmdCount
)

var driverCommandNames = [driverCmdCount]string{
	"none", "open-left", "open-right", "open-all",
	"close-left", "close-right", "close-all", "emergency-evac",
}

func (c DriverCommand) String() string {
	if c < driverCmdCount {
		return driverCommandNames[c]
	}
	return "unknown"
}

// ParseDriverCommand maps an IPC payload such as "open-left" to a DriverCommand
func ParseDriverCommand(name string) (DriverCommand, error) {
	for i, n := range driverCommandNames {
		if n == name {
			return DriverCommand(i), nil
		}
	}
	return DriverCmdNone, ErrInvalidParameter
}

// Helper function to convert bool to byte
func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
