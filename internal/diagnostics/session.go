package diagnostics

import "strings"

// LineClass describes what the session decided about one output line.
type LineClass int

const (
	// LineSentinel toggled the capture window.
	LineSentinel LineClass = iota
	// LineOutside fell outside the capture window: pre/post build shell
	// output, passed through to the raw log only.
	LineOutside
	// LineIgnored was inside the window but carries nothing parseable on
	// purpose: no marker prefix, or an unknown advisory message id.
	LineIgnored
	// LineParsed produced a LogItem.
	LineParsed
	// LineMalformed had the marker but matched neither shape.
	LineMalformed
)

// Observation is the session's verdict on one line.
type Observation struct {
	Class LineClass
	Item  LogItem
	Err   error
}

// Session tracks the capture window across one build attempt's output.
// Every attempt gets a fresh session, so a build that dies before printing
// the end sentinel cannot leak an open window into the next attempt.
type Session struct {
	capturing bool
}

func NewSession() *Session {
	return &Session{}
}

// Capturing reports whether the session is currently inside the window.
func (s *Session) Capturing() bool {
	return s.capturing
}

// Observe classifies one raw output line and advances the window state.
func (s *Session) Observe(raw string) Observation {
	text := strings.TrimSpace(StripANSI(raw))

	switch text {
	case SentinelStart:
		s.capturing = true
		return Observation{Class: LineSentinel}
	case SentinelEnd:
		s.capturing = false
		return Observation{Class: LineSentinel}
	}

	if !s.capturing {
		return Observation{Class: LineOutside}
	}

	item, ok, err := ParseLine(raw)
	switch {
	case err != nil:
		return Observation{Class: LineMalformed, Err: err}
	case !ok:
		return Observation{Class: LineIgnored}
	default:
		return Observation{Class: LineParsed, Item: item}
	}
}
