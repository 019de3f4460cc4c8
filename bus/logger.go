package bus

// Logger is the logging surface used by the bus, gateway and motor packages.
type Logger interface {
	Printf(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	DebugCAN(direction string, id uint32, data []byte, length uint8)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Printf(format string, v ...interface{})                          {}
func (NopLogger) Debug(format string, v ...interface{})                           {}
func (NopLogger) Info(format string, v ...interface{})                            {}
func (NopLogger) Warn(format string, v ...interface{})                            {}
func (NopLogger) Error(format string, v ...interface{})                           {}
func (NopLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {}

// LogFrame hands a frame to the logger's CAN dump.
func LogFrame(logger Logger, direction string, f Frame) {
	if logger != nil {
		data := f.Bytes()
		logger.DebugCAN(direction, f.ID(), data[:], f.Len())
	}
}
