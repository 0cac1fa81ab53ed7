package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Usage in defer statements:
//
//	func purge() {
//	    defer observability.RecoverPanic(logger, "session purge")
//	    // ... code that might panic
//	}
//
// The panic is NOT re-raised; the function returns normally.
func RecoverPanic(logger logrus.FieldLogger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and runs callback.
// The callback only runs when a panic occurred.
func RecoverPanicWithCallback(logger logrus.FieldLogger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(r)
		}
	}
}

func logPanic(logger logrus.FieldLogger, where string, r interface{}) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
