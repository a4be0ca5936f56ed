package engine

import (
	"time"

	"firestige.xyz/isup/internal/isup"
)

// supervisionStarts lists the timers started when a message is sent.
var supervisionStarts = map[isup.MessageType][]string{
	isup.IAM: {"T7"},
	isup.REL: {"T1", "T5"},
	isup.RSC: {"T16", "T17"},
	isup.BLO: {"T12", "T13"},
	isup.UBL: {"T14", "T15"},
	isup.CGB: {"T18", "T19"},
	isup.CGU: {"T20", "T21"},
	isup.GRS: {"T22", "T23"},
	isup.CQM: {"T28"},
	isup.INR: {"T33"},
}

// supervisionStops lists the timers a received message resolves.
var supervisionStops = map[isup.MessageType][]string{
	isup.ACM:  {"T7"},
	isup.CON:  {"T7"},
	isup.ANM:  {"T7"},
	isup.REL:  {"T7"},
	isup.RLC:  {"T1", "T5", "T16", "T17"},
	isup.BLA:  {"T12", "T13"},
	isup.UBA:  {"T14", "T15"},
	isup.CGBA: {"T18", "T19"},
	isup.CGUA: {"T20", "T21"},
	isup.GRA:  {"T22", "T23"},
	isup.CQR:  {"T28"},
	isup.INF:  {"T33"},
}

// DefaultTimers returns the Q.764 default supervision durations.
func DefaultTimers() map[string]time.Duration {
	return map[string]time.Duration{
		"T1":  15 * time.Second,
		"T5":  5 * time.Minute,
		"T7":  20 * time.Second,
		"T12": 15 * time.Second,
		"T13": time.Minute,
		"T14": 15 * time.Second,
		"T15": time.Minute,
		"T16": 15 * time.Second,
		"T17": time.Minute,
		"T18": 15 * time.Second,
		"T19": time.Minute,
		"T20": 15 * time.Second,
		"T21": time.Minute,
		"T22": 15 * time.Second,
		"T23": time.Minute,
		"T28": 10 * time.Second,
		"T33": 12 * time.Second,
	}
}

// TimerNames returns every supervision timer the engine may start.
func TimerNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range isup.StandardFormats() {
		for _, name := range supervisionStarts[t.Type] {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// supervised is the payload attached to a supervision timer.
type supervised struct {
	message *isup.Message
	linkset string
}
