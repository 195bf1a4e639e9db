// Package postcmd implements the post-install command interpreter
// (C13, spec §4.12): a narrow `cmd.exe /C del|ren` vocabulary with
// variable expansion, applied after asset processing and archive
// packing.
//
// Grounded on the teacher's small-vocabulary command dispatch in
// main.go's flag handling, adapted from parsing CLI verbs to parsing
// post-install command strings.
package postcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
)

// Interpreter executes post-install commands against a configured set of
// roots.
type Interpreter struct {
	Roots location.Roots
	Log   zerolog.Logger
}

// NewInterpreter constructs an Interpreter bound to roots.
func NewInterpreter(roots location.Roots, log zerolog.Logger) *Interpreter {
	return &Interpreter{Roots: roots, Log: log}
}

// UnrecognizedCommandError reports a command payload that isn't one of
// the recognized `del`/`ren` verbs (spec §4.12: "Unrecognized payloads
// count as failures without raising").
type UnrecognizedCommandError struct {
	Command string
}

func (e *UnrecognizedCommandError) Error() string {
	return fmt.Sprintf("postcmd: unrecognized command %q", e.Command)
}

// Run executes every post-command, returning the count of failures.
// Individual failures are counted, not fatal (spec §7 "Post-command
// failure").
func (i *Interpreter) Run(cmds []manifest.PostCommand) (failures int) {
	for _, c := range cmds {
		if err := i.runOne(c); err != nil {
			failures++
			i.Log.Warn().Err(err).Str("command", c.Command).Msg("post-command failed")
		}
	}
	return failures
}

func (i *Interpreter) runOne(c manifest.PostCommand) error {
	payload, ok := extractPayload(c.Command)
	if !ok {
		return &UnrecognizedCommandError{Command: c.Command}
	}

	tokens, err := tokenize(payload)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return &UnrecognizedCommandError{Command: c.Command}
	}

	verb := strings.ToLower(tokens[0])
	args := tokens[1:]

	switch verb {
	case "del":
		return i.runDel(args)
	case "ren":
		return i.runRen(args)
	default:
		return &UnrecognizedCommandError{Command: c.Command}
	}
}

// extractPayload recognizes `cmd.exe /C ...` and returns the trailing
// payload (spec §4.12: "A command is recognized only if it contains
// cmd.exe and a /C split").
func extractPayload(command string) (string, bool) {
	lower := strings.ToLower(command)
	if !strings.Contains(lower, "cmd.exe") {
		return "", false
	}
	idx := strings.Index(lower, "/c")
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(command[idx+2:]), true
}

// tokenize splits a payload on whitespace, honoring double-quoted
// segments as single tokens (spec §4.12: "delete the single
// quoted-or-unquoted path").
func tokenize(payload string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range payload {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	if inQuotes {
		return nil, fmt.Errorf("postcmd: unterminated quote in %q", payload)
	}
	return tokens, nil
}

func (i *Interpreter) runDel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("postcmd: del requires a path")
	}
	path := i.expand(args[0])

	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (i *Interpreter) runRen(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("postcmd: ren requires two paths")
	}
	oldPath := i.expand(args[0])
	newName := i.expand(args[1])

	dest := filepath.Join(filepath.Dir(oldPath), filepath.Base(newName))
	return os.Rename(oldPath, dest)
}

// expand substitutes known %VARIABLE% markers and converts backslashes
// to forward slashes on Unix-like hosts (spec §4.12).
func (i *Interpreter) expand(s string) string {
	return location.Expand(s, i.Roots)
}
