//go:build bootdebug

package app

import "rtx/hal"

func bootStep(h hal.HAL, msg string) {
	if h == nil {
		return
	}
	if l := h.Logger(); l != nil {
		l.WriteLineString("bootdiag: " + msg)
	}
}
