package msc

import "github.com/go-kit/log"

// newLogger returns l, or a no-op logger if l is nil, so callers never need
// to nil-check before logging.
func newLogger(l log.Logger) log.Logger {
	if l == nil {
		return log.NewNopLogger()
	}
	return l
}

func withLUN(l log.Logger, op string, lun int) log.Logger {
	return log.With(l, "op", op, "lun", lun)
}
