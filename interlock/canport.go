package interlock

import (
	"fmt"
	"sync/atomic"

	"github.com/brutella/can"
)

const DefaultCANQueueSize = 64

// CANStats are the running counters of a CANPort
type CANStats struct {
	TxFrames uint64
	RxFrames uint64
	Errors   uint64
	Dropped  uint64
}

// CANPort sits between the bus reader goroutine and the control cycle.
// The bus calls Handle; the cycle drains frames with Receive.
type CANPort struct {
	rx  chan can.Frame
	pub FramePublisher

	logger Logger

	txFrames atomic.Uint64
	rxFrames atomic.Uint64
	errors   atomic.Uint64
	dropped  atomic.Uint64
}

func NewCANPort(pub FramePublisher, queueSize int, logger Logger) *CANPort {
	if queueSize <= 0 {
		queueSize = DefaultCANQueueSize
	}
	return &CANPort{
		rx:     make(chan can.Frame, queueSize),
		pub:    pub,
		logger: loggerOrNop(logger),
	}
}

func validFrame(frame can.Frame) bool {
	return frame.ID <= MaxStandardCANID && frame.Length <= MaxCANLength
}

// Handle implements can.Handler. A full queue drops the incoming frame.
func (p *CANPort) Handle(frame can.Frame) {
	if !validFrame(frame) {
		p.errors.Add(1)
		return
	}
	DebugCANFrame(p.logger, "RX", frame)

	select {
	case p.rx <- frame:
		p.rxFrames.Add(1)
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("CAN receive queue full, dropping frames")
		}
	}
}

// Send validates and transmits one frame
func (p *CANPort) Send(frame can.Frame) error {
	if !validFrame(frame) {
		return ErrInvalidParameter
	}
	if p.pub == nil {
		p.errors.Add(1)
		return ErrCommunicationFailure
	}

	DebugCANFrame(p.logger, "TX", frame)

	if err := p.pub.Publish(frame); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("%w: publish 0x%03X: %v", ErrCommunicationFailure, frame.ID, err)
	}
	p.txFrames.Add(1)
	return nil
}

// Receive returns the oldest queued frame, or ErrTimeout if none is waiting
func (p *CANPort) Receive() (can.Frame, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	default:
		return can.Frame{}, ErrTimeout
	}
}

func (p *CANPort) RxReady() bool {
	return len(p.rx) > 0
}

func (p *CANPort) Stats() CANStats {
	return CANStats{
		TxFrames: p.txFrames.Load(),
		RxFrames: p.rxFrames.Load(),
		Errors:   p.errors.Load(),
		Dropped:  p.dropped.Load(),
	}
}
