package interlock

import (
	"fmt"

	"github.com/brutella/can"
)

const (
	StatusPeriodMs    = 50
	StatusFrameLength = 8

	statusFlagCritical = 0x01
	statusModeShift    = 4
	statusModeMask     = 0x70
)

type SideStatus struct {
	State    DoorState
	Position uint8
	Locked   bool
}

// DoorStatus is one snapshot of everything the status frame and the
// Redis publisher report.
type DoorStatus struct {
	Mode          Mode
	Speed         uint16
	SafeToOpen    bool
	ShouldLock    bool
	CriticalFault bool
	ActiveFaults  int
	CANTimeout    bool
	Sides         [sideCount]SideStatus

	// link counters, filled in by the Controller
	CAN            CANStats
	StatusTx       uint32
	StatusTxErrors uint32
}

func (s DoorStatus) Side(side Side) SideStatus {
	if side >= sideCount {
		return SideStatus{State: DoorClosed, Locked: true}
	}
	return s.Sides[side]
}

// Frame packs the snapshot as CAN_ID_DOOR_STATUS
func (s DoorStatus) Frame() can.Frame {
	left, right := s.Sides[SideLeft], s.Sides[SideRight]

	active := s.ActiveFaults
	if active > 0xFF {
		active = 0xFF
	}
	flags := byte(s.Mode<<statusModeShift) & statusModeMask
	if s.CriticalFault {
		flags |= statusFlagCritical
	}

	return can.Frame{
		ID:     CANIDDoorStatus,
		Length: StatusFrameLength,
		Data: [8]byte{
			left.Position,
			right.Position,
			byte(left.State),
			byte(right.State),
			boolToByte(left.Locked),
			boolToByte(right.Locked),
			byte(active),
			flags,
		},
	}
}

// StatusReporter refreshes the door status every cycle and broadcasts it
// every StatusPeriodMs.
type StatusReporter struct {
	doors     DoorController
	monitor   *SafetyMonitor
	processor *CommandProcessor
	registry  *FaultRegistry
	tx        FrameSender
	logger    Logger

	periodMs uint32
	lastTx   uint32
	sent     bool
	txFailed bool

	status   DoorStatus
	txCount  uint32
	errCount uint32
}

func NewStatusReporter(doors DoorController, monitor *SafetyMonitor, processor *CommandProcessor,
	registry *FaultRegistry, tx FrameSender, periodMs uint32, logger Logger) *StatusReporter {
	if periodMs == 0 {
		periodMs = StatusPeriodMs
	}
	return &StatusReporter{
		doors:     doors,
		monitor:   monitor,
		processor: processor,
		registry:  registry,
		tx:        tx,
		periodMs:  periodMs,
		logger:    loggerOrNop(logger),
	}
}

func (r *StatusReporter) snapshot() DoorStatus {
	s := DoorStatus{
		Mode:          r.processor.Mode(),
		Speed:         r.monitor.Speed(),
		SafeToOpen:    r.monitor.IsSafeToOpen(),
		ShouldLock:    r.monitor.ShouldLock(),
		CriticalFault: r.registry.IsCriticalFaultActive(),
		ActiveFaults:  r.registry.Count(),
		CANTimeout:    r.processor.CANTimeout(),
	}
	for _, side := range sides {
		if r.doors == nil {
			s.Sides[side] = SideStatus{State: DoorClosed, Locked: true}
			continue
		}
		s.Sides[side] = SideStatus{
			State:    r.doors.State(side),
			Position: r.doors.Position(side),
			Locked:   r.doors.IsLocked(side),
		}
	}
	return s
}

// Update refreshes the snapshot and sends the status frame when due
func (r *StatusReporter) Update(now uint32) error {
	if r == nil {
		return ErrNullPointer
	}
	r.status = r.snapshot()

	if r.sent && elapsedMs(now, r.lastTx) < r.periodMs {
		return nil
	}
	r.lastTx = now
	r.sent = true
	return r.send()
}

func (r *StatusReporter) send() error {
	if r.tx == nil {
		return ErrNullPointer
	}
	if err := r.tx.Send(r.status.Frame()); err != nil {
		r.errCount++
		if !r.txFailed {
			r.logger.Warn("Door status transmit failed: %v", err)
		}
		r.txFailed = true
		if r.registry != nil {
			r.registry.ReportFault(FaultStatusTx, SeverityMinor)
		}
		return fmt.Errorf("send door status: %w", err)
	}
	if r.txFailed {
		r.logger.Info("Door status transmit recovered")
	}
	r.txFailed = false
	r.txCount++
	return nil
}

// Status returns the snapshot taken by the last Update
func (r *StatusReporter) Status() DoorStatus {
	if r == nil {
		return DoorStatus{CriticalFault: true, ShouldLock: true, Speed: SpeedUnknown}
	}
	return r.status
}

func (r *StatusReporter) Counters() (tx, errs uint32) {
	if r == nil {
		return 0, 0
	}
	return r.txCount, r.errCount
}
