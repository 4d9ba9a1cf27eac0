package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// packages whose frames never count as the call site
var wrapperPackages = []string{"sirupsen/logrus", "coinflow/logger"}

// callerHook points entry.Caller at the first frame outside logrus and the
// wrappers in this package, so file:line reflects the pipeline code.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	for _, pkg := range wrapperPackages {
		if strings.Contains(fn, pkg) {
			return true
		}
	}
	return false
}
