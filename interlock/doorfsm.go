package interlock

const (
	DefaultDoorTravelMs = 3000

	motorOpenDuty  int8 = 100
	motorCloseDuty int8 = -100
)

type doorLeaf struct {
	state     DoorState
	travelled uint32 // ms of travel from fully closed
	locked    bool
}

// DoorFSM drives both door leaves. Locking is tracked beside the motion
// state: a leaf can only be locked while CLOSED.
type DoorFSM struct {
	leaves   [sideCount]doorLeaf
	travelMs uint32

	lastUpdate uint32
	started    bool

	interlock Interlock
	actuator  DoorActuator
	obstacles ObstacleSensor
	faults    FaultReporter
	logger    Logger
}

type DoorFSMOptions struct {
	TravelMs  uint32
	Actuator  DoorActuator
	Obstacles ObstacleSensor
	Faults    FaultReporter
	Logger    Logger
}

func NewDoorFSM(interlock Interlock, opts DoorFSMOptions) *DoorFSM {
	travel := opts.TravelMs
	if travel == 0 {
		travel = DefaultDoorTravelMs
	}
	d := &DoorFSM{
		travelMs:  travel,
		interlock: interlock,
		actuator:  opts.Actuator,
		obstacles: opts.Obstacles,
		faults:    opts.Faults,
		logger:    loggerOrNop(opts.Logger),
	}
	d.Init()
	return d
}

// Init puts both leaves closed and locked
func (d *DoorFSM) Init() error {
	if d == nil {
		return ErrNullPointer
	}
	for i := range d.leaves {
		d.leaves[i] = doorLeaf{state: DoorClosed, locked: true}
	}
	d.started = false
	return nil
}

func (d *DoorFSM) State(side Side) DoorState {
	if d == nil || side >= sideCount {
		return DoorClosed
	}
	return d.leaves[side].state
}

// Position returns 0 (closed) to 100 (fully open)
func (d *DoorFSM) Position(side Side) uint8 {
	if d == nil || side >= sideCount {
		return 0
	}
	return uint8(d.leaves[side].travelled * 100 / d.travelMs)
}

func (d *DoorFSM) IsLocked(side Side) bool {
	if d == nil || side >= sideCount {
		return true
	}
	return d.leaves[side].locked
}

func (d *DoorFSM) safeToOpen(locked bool) bool {
	if d.interlock == nil {
		return false
	}
	if !d.interlock.IsSafeToOpen() || d.interlock.ShouldLock() {
		return false
	}
	return !locked || d.interlock.ShouldUnlock()
}

func (d *DoorFSM) shouldLock() bool {
	return d.interlock == nil || d.interlock.ShouldLock()
}

// ProcessEvent applies an open or close command to one leaf. Opening is
// refused with ErrInvalidState unless the interlock permits it.
func (d *DoorFSM) ProcessEvent(side Side, event DoorEvent) error {
	if d == nil {
		return ErrNullPointer
	}
	if side >= sideCount || event > EventCloseCmd {
		return ErrInvalidParameter
	}
	leaf := &d.leaves[side]

	switch event {
	case EventOpenCmd:
		switch leaf.state {
		case DoorOpen, DoorOpening:
			return nil
		case DoorClosed, DoorClosing, DoorObstructed:
			if !d.safeToOpen(leaf.locked) {
				return ErrInvalidState
			}
			if leaf.locked {
				if err := d.setLock(side, false); err != nil {
					return err
				}
			}
			return d.startMotion(side, DoorOpening)
		default:
			return ErrInvalidState
		}

	case EventCloseCmd:
		switch leaf.state {
		case DoorOpen, DoorOpening, DoorObstructed, DoorFault:
			return d.startMotion(side, DoorClosing)
		}
	}
	return nil
}

// Update advances both leaves by the time since the previous call and
// applies the interlock.
func (d *DoorFSM) Update(now uint32) error {
	if d == nil {
		return ErrNullPointer
	}
	var elapsed uint32
	if d.started {
		elapsed = elapsedMs(now, d.lastUpdate)
	}
	d.lastUpdate = now
	d.started = true

	lock := d.shouldLock()
	for _, side := range sides {
		d.updateLeaf(side, elapsed, lock)
	}
	return nil
}

func (d *DoorFSM) updateLeaf(side Side, elapsed uint32, lock bool) {
	leaf := &d.leaves[side]

	if lock && (leaf.state == DoorOpen || leaf.state == DoorOpening) {
		d.logger.Warn("Door %s forced closed by interlock", side)
		if d.startMotion(side, DoorClosing) != nil {
			return
		}
	}

	switch leaf.state {
	case DoorOpening:
		leaf.travelled += elapsed
		if leaf.travelled >= d.travelMs {
			leaf.travelled = d.travelMs
			if d.stopMotion(side, DoorOpen) == nil {
				d.logger.Info("Door %s open", side)
			}
		}

	case DoorClosing:
		if d.obstructed(side) {
			if d.stopMotion(side, DoorObstructed) == nil {
				d.logger.Warn("Door %s obstructed at %d%%", side, d.Position(side))
				d.report(FaultDoorObstruction, SeverityMinor)
			}
			return
		}
		if elapsed >= leaf.travelled {
			leaf.travelled = 0
			if d.stopMotion(side, DoorClosed) == nil {
				d.logger.Info("Door %s closed", side)
			}
		} else {
			leaf.travelled -= elapsed
		}

	case DoorObstructed:
		if !d.obstructed(side) {
			d.logger.Info("Door %s obstruction cleared, closing", side)
			d.startMotion(side, DoorClosing)
		} else {
			d.report(FaultDoorObstruction, SeverityMinor)
		}
	}

	if leaf.state != DoorClosed {
		return
	}
	if lock && !leaf.locked {
		if d.setLock(side, true) == nil {
			d.logger.Info("Door %s locked", side)
		}
	} else if !lock && leaf.locked && d.interlock.ShouldUnlock() {
		if d.setLock(side, false) == nil {
			d.logger.Info("Door %s released", side)
		}
	}
}

func (d *DoorFSM) obstructed(side Side) bool {
	return d.obstacles != nil && d.obstacles.Obstacle(side)
}

func (d *DoorFSM) startMotion(side Side, state DoorState) error {
	duty := motorOpenDuty
	if state == DoorClosing {
		duty = motorCloseDuty
	}
	if err := d.drive(side, duty); err != nil {
		return err
	}
	d.leaves[side].state = state
	return nil
}

func (d *DoorFSM) stopMotion(side Side, state DoorState) error {
	if err := d.drive(side, 0); err != nil {
		return err
	}
	d.leaves[side].state = state
	return nil
}

func (d *DoorFSM) drive(side Side, duty int8) error {
	if d.actuator == nil {
		return nil
	}
	if err := d.actuator.SetMotor(side, duty); err != nil {
		d.fail(side, err)
		return ErrHardwareFailure
	}
	return nil
}

func (d *DoorFSM) setLock(side Side, locked bool) error {
	if d.actuator != nil {
		if err := d.actuator.SetLock(side, locked); err != nil {
			d.fail(side, err)
			return ErrHardwareFailure
		}
	}
	d.leaves[side].locked = locked
	return nil
}

// fail parks a leaf in FAULT with the motor stopped
func (d *DoorFSM) fail(side Side, err error) {
	d.logger.Error("Door %s actuator failure: %v", side, err)
	d.leaves[side].state = DoorFault
	if d.actuator != nil {
		d.actuator.SetMotor(side, 0)
	}
	d.report(FaultDoorActuator, SeverityCritical)
}

func (d *DoorFSM) report(code FaultCode, severity FaultSeverity) {
	if d.faults == nil {
		return
	}
	if err := d.faults.ReportFault(code, severity); err != nil {
		d.logger.Error("Failed to report fault 0x%04X: %v", code, err)
	}
}
