package interlock

import "github.com/brutella/can"

const ActuationFrameLength = 3

// CANDoorActuator commands the door drive units over CAN. Every change of
// motor duty or lock sends CAN_ID_DOOR_ACTUATION for that side:
// [side, duty (two's complement), locked].
type CANDoorActuator struct {
	tx     FrameSender
	duty   [sideCount]int8
	locked [sideCount]bool
}

func NewCANDoorActuator(tx FrameSender) *CANDoorActuator {
	a := &CANDoorActuator{tx: tx}
	for _, side := range sides {
		a.locked[side] = true
	}
	return a
}

func (a *CANDoorActuator) SetMotor(side Side, duty int8) error {
	if a == nil {
		return ErrNullPointer
	}
	if side >= sideCount || duty < motorCloseDuty || duty > motorOpenDuty {
		return ErrInvalidParameter
	}
	if err := a.send(side, duty, a.locked[side]); err != nil {
		return err
	}
	a.duty[side] = duty
	return nil
}

func (a *CANDoorActuator) SetLock(side Side, locked bool) error {
	if a == nil {
		return ErrNullPointer
	}
	if side >= sideCount {
		return ErrInvalidParameter
	}
	if err := a.send(side, a.duty[side], locked); err != nil {
		return err
	}
	a.locked[side] = locked
	return nil
}

// Duty returns the last duty acknowledged by the bus
func (a *CANDoorActuator) Duty(side Side) int8 {
	if a == nil || side >= sideCount {
		return 0
	}
	return a.duty[side]
}

func (a *CANDoorActuator) send(side Side, duty int8, locked bool) error {
	if a.tx == nil {
		return ErrCommunicationFailure
	}
	return a.tx.Send(NewActuationFrame(side, duty, locked))
}

func NewActuationFrame(side Side, duty int8, locked bool) can.Frame {
	return can.Frame{
		ID:     CANIDDoorActuation,
		Length: ActuationFrameLength,
		Data:   [8]byte{byte(side), byte(duty), boolToByte(locked)},
	}
}
