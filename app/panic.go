package app

import (
	"fmt"
	"strings"

	"rtx/kernel"
)

// reportPanic writes a captured task panic straight to the HAL logger, so it
// shows up whatever the log mask.
func (s *System) reportPanic(info *kernel.TaskPanic) {
	l := s.h.Logger()
	if l == nil {
		return
	}
	name := "?"
	for n, tid := range s.tids {
		if tid == info.TaskID {
			name = n
		}
	}
	l.WriteLineString(fmt.Sprintf("rtx panic: task=%d (%s) panic=%v", info.TaskID, name, info.Value))
	if len(info.Stack) == 0 {
		l.WriteLineString("stack: unavailable")
		return
	}
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line == "" {
			continue
		}
		l.WriteLineString(line)
	}
}
