package exception

import (
	"os"
	"runtime/debug"

	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
)

// SafeGo runs fn in a goroutine and logs a panic instead of crashing the node.
func SafeGo(name string, fn func()) {
	go func() {
		defer recoverAndLog(name, false)
		fn()
	}()
}

// SafeGoWithPanic runs fn in a goroutine and exits the process if it panics.
func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer recoverAndLog(name, true)
		fn()
	}()
}

func recoverAndLog(name string, exit bool) {
	if r := recover(); r != nil {
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", "Panic in:", name, r, string(debug.Stack()))
		if exit {
			os.Exit(1)
		}
	}
}
