package interlock

import (
	"encoding/binary"

	"github.com/brutella/can"
)

const (
	SpeedFrameLength = 8
	SpeedDataTimeout = 200 // ms
)

// CANSpeedSensor caches the redundant speed readings broadcast on
// CAN_ID_SPEED_DATA. Readings older than SpeedDataTimeout are refused.
type CANSpeedSensor struct {
	clock Clock

	primary   uint16
	secondary uint16
	lastFrame uint32
	received  bool
}

func NewCANSpeedSensor(clock Clock) *CANSpeedSensor {
	return &CANSpeedSensor{clock: clock}
}

// HandleFrame stores the readings from a speed frame. Other frames are
// ignored.
func (s *CANSpeedSensor) HandleFrame(frame can.Frame) bool {
	if frame.ID != CANIDSpeedData || frame.Length != SpeedFrameLength {
		return false
	}

	s.primary = binary.BigEndian.Uint16(frame.Data[0:2])
	s.secondary = binary.BigEndian.Uint16(frame.Data[2:4])
	s.lastFrame = s.clock.NowMs()
	s.received = true
	return true
}

// ReadSpeed implements SpeedSensor
func (s *CANSpeedSensor) ReadSpeed() (primary, secondary uint16, err error) {
	if !s.received || s.IsDataStale() {
		return 0, 0, ErrTimeout
	}
	return s.primary, s.secondary, nil
}

// IsDataStale reports whether no speed frame arrived within SpeedDataTimeout
func (s *CANSpeedSensor) IsDataStale() bool {
	return elapsedMs(s.clock.NowMs(), s.lastFrame) > SpeedDataTimeout
}

// NewSpeedFrame packs a speed frame, used by simulators and tests
func NewSpeedFrame(primary, secondary uint16) can.Frame {
	frame := can.Frame{
		ID:     CANIDSpeedData,
		Length: SpeedFrameLength,
	}
	binary.BigEndian.PutUint16(frame.Data[0:2], primary)
	binary.BigEndian.PutUint16(frame.Data[2:4], secondary)
	return frame
}
