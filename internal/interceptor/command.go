package interceptor

import (
	"strings"
)

// Verb classifies a control line.
type Verb int

const (
	VerbOther Verb = iota
	VerbConnect
	VerbStart
	VerbSpool
	VerbSpoolOff
	VerbClear
)

func (v Verb) String() string {
	switch v {
	case VerbConnect:
		return "CONNECT"
	case VerbStart:
		return "START"
	case VerbSpool:
		return "SPOOL"
	case VerbSpoolOff:
		return "SPOOL-OFF"
	case VerbClear:
		return "CLEAR"
	default:
		return "OTHER"
	}
}

// Command is a parsed control line. Line is kept exactly as received so it
// can be forwarded unmodified.
type Command struct {
	Verb Verb
	Arg  string // text after the verb, trimmed
	Path string // Arg with surrounding quotes removed, for START and SPOOL
	Line string
}

// Parse classifies a control line. Verbs match case-insensitively; a verb
// that needs an argument but has none is passed through as VerbOther.
func Parse(line string) Command {
	cmd := Command{Verb: VerbOther, Line: line}

	trimmed := strings.TrimSpace(line)
	word, rest := splitVerb(trimmed)
	cmd.Arg = rest

	switch strings.ToUpper(word) {
	case "CONNECT":
		cmd.Verb = VerbConnect
	case "CLEAR":
		cmd.Verb = VerbClear
	case "SPOOL":
		switch {
		case rest == "":
		case strings.EqualFold(rest, "OFF"):
			cmd.Verb = VerbSpoolOff
		default:
			cmd.Verb = VerbSpool
			cmd.Path = unquote(rest)
		}
	case "START":
		if rest != "" {
			cmd.Verb = VerbStart
			cmd.Path = unquote(rest)
		}
	}

	return cmd
}

func splitVerb(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}
