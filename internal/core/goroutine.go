package core

import (
	"runtime"
	"strconv"
	"strings"
)

// GoroutineID returns the runtime id of the calling goroutine, or 0 if the
// stack header cannot be parsed. It is used to recognise re-entrant calls
// made from inside callbacks, never for scheduling.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	fields := strings.Fields(stack)
	if len(fields) == 0 {
		return 0
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
