// Package diagnostics reconstructs positioned compiler issues from the
// machine-readable portion of a build attempt's output.
//
// The wrapped compiler brackets its structured lines between literal
// `####START####` / `####END####` sentinels and prefixes each with `##`.
// Two line shapes exist: project issues (`##<messageId>:<json args>`) that
// attach to the workspace root, and class issues
// (`##<class>:[line,col]:[line,col]:<level>: <message>`) that attach to a
// source file located under the builder's source paths.
package diagnostics

import (
	"encoding/json"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

const (
	// SentinelStart and SentinelEnd delimit the compiler's machine-readable
	// output window. They are echoed by the build command itself, so pre and
	// post build shell output always falls outside the window.
	SentinelStart = "####START####"
	SentinelEnd   = "####END####"

	markerPrefix = "##"
)

// Severity of one diagnostic, ordered from most to least severe.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInformation
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Position is zero-based line, column pair.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// ItemKind discriminates the two parseable line shapes.
type ItemKind int

const (
	// KindProject is a whole-workspace issue identified by a message id.
	KindProject ItemKind = iota
	// KindClass is an issue attributable to one source class.
	KindClass
)

// LogItem is one parsed machine-readable output line. Positions are kept as
// printed by the compiler (1-based lines); conversion to editor coordinates
// happens when the item is folded into a DiagnosticSet.
type LogItem struct {
	Kind      ItemKind
	MessageID string
	Args      []any
	ClassName string
	Start     Position
	End       Position
	Level     string
	Message   string
}

// Severity maps the parsed level token to a severity, falling back to a
// stream-dependent default when the compiler printed no level.
func (i LogItem) Severity(stream events.Stream) Severity {
	switch i.Level {
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	case "trace":
		return SeverityInformation
	}
	if stream == events.StreamStderr {
		return SeverityError
	}
	return SeverityInformation
}

var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

// StripANSI removes ANSI color escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// classTokenPattern splits a class-shape body into tokens on any run of
// colons or whitespace.
var classTokenPattern = regexp.MustCompile(`[:\s]+`)

// ParseLine classifies one captured output line.
//
// Returns (item, true, nil) when the line parses into a diagnostic item.
// Returns (zero, false, nil) when the line carries no machine-readable
// marker or its message id is unknown; such lines are ignored without
// noise. Returns (zero, false, err) when the line has the marker but
// matches neither shape; the caller logs it and moves on, parse failures
// are never fatal to a build.
func ParseLine(raw string) (LogItem, bool, error) {
	text := strings.TrimSpace(StripANSI(raw))
	if !strings.HasPrefix(text, markerPrefix) {
		return LogItem{}, false, nil
	}
	body := text[len(markerPrefix):]

	if item, ok, drop := parseProject(body); ok {
		if drop {
			return LogItem{}, false, nil
		}
		return item, true, nil
	}

	if item, ok := parseClass(body); ok {
		return item, true, nil
	}

	return LogItem{}, false, ferrors.ParseError("unparseable machine-readable line").
		WithContext("line", text).
		Build()
}

// parseProject tries the project-issue shape: a message id, a colon, and a
// JSON argument array. ok reports whether the shape matched at all; drop
// reports a matching line whose id has no registered template.
func parseProject(body string) (item LogItem, ok bool, drop bool) {
	id, rest, found := strings.Cut(body, ":")
	if !found {
		return LogItem{}, false, false
	}

	var args []any
	if err := json.Unmarshal([]byte(rest), &args); err != nil {
		return LogItem{}, false, false
	}

	template, known := messageTemplates[id]
	if !known {
		return LogItem{}, true, true
	}

	return LogItem{
		Kind:      KindProject,
		MessageID: id,
		Args:      args,
		Message:   renderTemplate(template, args),
	}, true, false
}

// parseClass tries the class-issue shape. Tokens are separated by any run
// of colons or whitespace: class name, JSON start position, JSON end
// position, an optional severity level token, then the message.
func parseClass(body string) (LogItem, bool) {
	tokens := classTokenPattern.Split(body, -1)
	if len(tokens) < 3 || tokens[0] == "" {
		return LogItem{}, false
	}

	start, ok := parsePosition(tokens[1])
	if !ok {
		return LogItem{}, false
	}
	end, ok := parsePosition(tokens[2])
	if !ok {
		return LogItem{}, false
	}

	item := LogItem{
		Kind:      KindClass,
		ClassName: tokens[0],
		Start:     start,
		End:       end,
	}

	rest := tokens[3:]
	if len(rest) > 0 {
		switch rest[0] {
		case "error", "warning", "trace":
			item.Level = rest[0]
			rest = rest[1:]
		}
	}
	item.Message = strings.Join(rest, " ")

	return item, true
}

func parsePosition(token string) (Position, bool) {
	var pair []int
	if err := json.Unmarshal([]byte(token), &pair); err != nil {
		return Position{}, false
	}
	if len(pair) != 2 {
		return Position{}, false
	}
	return Position{Line: pair[0], Col: pair[1]}, true
}
