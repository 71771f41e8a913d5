package interlock

import "github.com/brutella/can"

const (
	CANCommandTimeoutMs = 1000
	CANCommandLength    = 2
)

// Door command codes carried in byte 0 of CAN_ID_DOOR_COMMAND
const (
	CANCmdOpenLeft   byte = 0x01
	CANCmdOpenRight  byte = 0x02
	CANCmdOpenAll    byte = 0x03
	CANCmdCloseLeft  byte = 0x11
	CANCmdCloseRight byte = 0x12
	CANCmdCloseAll   byte = 0x13
)

var canCommandMap = map[byte]DriverCommand{
	CANCmdOpenLeft:   DriverCmdOpenLeft,
	CANCmdOpenRight:  DriverCmdOpenRight,
	CANCmdOpenAll:    DriverCmdOpenAll,
	CANCmdCloseLeft:  DriverCmdCloseLeft,
	CANCmdCloseRight: DriverCmdCloseRight,
	CANCmdCloseAll:   DriverCmdCloseAll,
}

// CommandChecksum is the ones-complement check byte for a command code
func CommandChecksum(code byte) byte {
	return 0xFF ^ code
}

// NewCommandFrame builds a valid door command frame for code
func NewCommandFrame(code byte) can.Frame {
	return can.Frame{
		ID:     CANIDDoorCommand,
		Length: CANCommandLength,
		Data:   [8]byte{code, CommandChecksum(code)},
	}
}

// CommandProcessor owns the operating mode and holds at most one pending
// door event per side between cycles.
type CommandProcessor struct {
	mode    Mode
	pending [sideCount]DoorEvent

	lastCANCmdMs uint32
	canCmdSeen   bool
	canTimeout   bool

	doors  DoorController
	faults FaultReporter
	logger Logger
}

func NewCommandProcessor(doors DoorController, faults FaultReporter, logger Logger) *CommandProcessor {
	p := &CommandProcessor{
		doors:  doors,
		faults: faults,
		logger: loggerOrNop(logger),
	}
	p.Init()
	return p
}

func (p *CommandProcessor) Init() error {
	if p == nil {
		return ErrNullPointer
	}
	p.mode = ModeNormal
	p.pending = [sideCount]DoorEvent{}
	p.lastCANCmdMs = 0
	p.canCmdSeen = false
	p.canTimeout = false
	return nil
}

// Update runs one cycle: CAN command supervision, emergency queuing, then
// dispatch of every pending event to the door FSM.
func (p *CommandProcessor) Update(now uint32) error {
	if p == nil {
		return ErrNullPointer
	}

	if p.canCmdSeen && elapsedMs(now, p.lastCANCmdMs) > CANCommandTimeoutMs {
		if !p.canTimeout {
			p.logger.Warn("CAN door command timeout (last command %d ms ago)", elapsedMs(now, p.lastCANCmdMs))
		}
		p.canTimeout = true
		p.report(FaultCANCommandTimeout, SeverityMinor)
	}

	if p.mode == ModeEmergency {
		for _, side := range sides {
			if p.doorState(side) != DoorOpen {
				p.pending[side] = EventOpenCmd
			}
		}
	}

	for _, side := range sides {
		event := p.pending[side]
		if event == EventNone {
			continue
		}
		p.pending[side] = EventNone
		if p.doors == nil {
			continue
		}
		if err := p.doors.ProcessEvent(side, event); err != nil {
			p.logger.Debug("Door %s rejected %s: %v", side, event, err)
			p.report(FaultDoorEventRejected, SeverityMinor)
		}
	}

	return nil
}

func (p *CommandProcessor) doorState(side Side) DoorState {
	if p.doors == nil {
		return DoorClosed
	}
	return p.doors.State(side)
}

// ProcessDriverCommand queues the door events for a driver desk command
func (p *CommandProcessor) ProcessDriverCommand(cmd DriverCommand) error {
	if p == nil {
		return ErrNullPointer
	}
	if p.mode == ModeDiagnostic {
		return ErrInvalidState
	}
	if cmd >= driverCmdCount {
		return ErrInvalidParameter
	}
	p.apply(cmd)
	return nil
}

func (p *CommandProcessor) apply(cmd DriverCommand) {
	switch cmd {
	case DriverCmdOpenLeft:
		p.pending[SideLeft] = EventOpenCmd
	case DriverCmdOpenRight:
		p.pending[SideRight] = EventOpenCmd
	case DriverCmdOpenAll:
		p.pending[SideLeft] = EventOpenCmd
		p.pending[SideRight] = EventOpenCmd
	case DriverCmdCloseLeft:
		p.pending[SideLeft] = EventCloseCmd
	case DriverCmdCloseRight:
		p.pending[SideRight] = EventCloseCmd
	case DriverCmdCloseAll:
		p.pending[SideLeft] = EventCloseCmd
		p.pending[SideRight] = EventCloseCmd
	case DriverCmdEmergencyEvac:
		p.enterMode(ModeEmergency)
	}
}

// ProcessCANCommand validates a door command frame and queues its events.
// The frame must carry CAN_ID_DOOR_COMMAND, DLC 2 and a valid checksum.
func (p *CommandProcessor) ProcessCANCommand(frame can.Frame, now uint32) error {
	if p == nil {
		return ErrNullPointer
	}
	if frame.ID != CANIDDoorCommand || frame.Length != CANCommandLength {
		return ErrInvalidParameter
	}

	code := frame.Data[0]
	if frame.Data[1] != CommandChecksum(code) {
		p.logger.Debug("Door command checksum mismatch: code=0x%02X check=0x%02X", code, frame.Data[1])
		return ErrCommunicationFailure
	}

	cmd, ok := canCommandMap[code]
	if !ok {
		return ErrInvalidData
	}

	p.apply(cmd)
	p.lastCANCmdMs = now
	p.canCmdSeen = true
	if p.canTimeout {
		p.logger.Info("CAN door commands resumed")
	}
	p.canTimeout = false
	return nil
}

// SetMode switches the operating mode. Entering EMERGENCY queues OPEN on
// both sides immediately.
func (p *CommandProcessor) SetMode(mode Mode) error {
	if p == nil {
		return ErrNullPointer
	}
	if mode >= modeCount {
		return ErrInvalidParameter
	}
	p.enterMode(mode)
	return nil
}

func (p *CommandProcessor) enterMode(mode Mode) {
	if mode != p.mode {
		p.logger.Info("Mode %s -> %s", p.mode, mode)
	}
	p.mode = mode
	if mode == ModeEmergency {
		p.pending[SideLeft] = EventOpenCmd
		p.pending[SideRight] = EventOpenCmd
	}
}

// Mode returns the operating mode. A nil processor reports NORMAL.
func (p *CommandProcessor) Mode() Mode {
	if p == nil {
		return ModeNormal
	}
	return p.mode
}

// Pending returns the queued event for one side
func (p *CommandProcessor) Pending(side Side) DoorEvent {
	if p == nil || side >= sideCount {
		return EventNone
	}
	return p.pending[side]
}

func (p *CommandProcessor) CANTimeout() bool {
	if p == nil {
		return true
	}
	return p.canTimeout
}

func (p *CommandProcessor) report(code FaultCode, severity FaultSeverity) {
	if p.faults == nil {
		return
	}
	if err := p.faults.ReportFault(code, severity); err != nil {
		p.logger.Error("Failed to report fault 0x%04X: %v", code, err)
	}
}
