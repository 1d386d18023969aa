// Package tlog provides common logf for tests
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package tlog

import (
	"fmt"
	"os"
	"time"
)

func prefix() string { return time.Now().Format("15:04:05.000000") }

func Logf(format string, a ...any) {
	fmt.Fprintf(os.Stdout, prefix()+" "+format, a...)
}

func Logln(msg string) {
	Logf(msg + "\n")
}
