package interlock

import "github.com/brutella/can"

// Logger interface for kernel logging
type Logger interface {
	Printf(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	DebugCAN(direction string, id uint32, data []byte, length uint8)
}

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{})                          {}
func (nopLogger) Debug(format string, v ...interface{})                           {}
func (nopLogger) Info(format string, v ...interface{})                            {}
func (nopLogger) Warn(format string, v ...interface{})                            {}
func (nopLogger) Error(format string, v ...interface{})                           {}
func (nopLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// DebugCANFrame logs a CAN frame at debug level
func DebugCANFrame(logger Logger, direction string, frame can.Frame) {
	if logger != nil {
		logger.DebugCAN(direction, frame.ID, frame.Data[:], frame.Length)
	}
}
