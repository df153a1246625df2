//go:build !bootdebug

package app

import "rtx/hal"

func bootStep(hal.HAL, string) {}
