package logger

import "sync/atomic"

var defLogger atomic.Pointer[Logger]

func init() {
	SetDefault(NewSlog(InfoLevel, false))
}

// SetDefault replaces the package default logger. Sockets and engines created afterwards
// without an explicit logger use l; existing ones keep the logger they captured.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defLogger.Store(&l)
}

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return *defLogger.Load()
}

// SetLevel changes the level of the default logger.
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// With returns a child of the default logger carrying keyValues.
func With(keyValues ...any) Logger {
	return GetLogger().With(keyValues...)
}
