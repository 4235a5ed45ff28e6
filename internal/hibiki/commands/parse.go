// Package commands parses user commands and checks them against the command
// catalog before they are forwarded to a provider bot.
package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Prefix starts every command.
const Prefix = "/"

// MaxLength is the longest accepted raw command, in runes.
const MaxLength = 500

// Code classifies a command error for API clients.
type Code string

const (
	CodeInvalidFormat    Code = "INVALID_FORMAT"
	CodeTooLong          Code = "COMMAND_TOO_LONG"
	CodeEmpty            Code = "EMPTY_COMMAND"
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"
	CodeUnknownCommand   Code = "UNKNOWN_COMMAND"
)

// Error is returned for commands users got wrong.
type Error struct {
	Code    Code
	Message string
	// Format is the expected argument format, when known.
	Format string
}

func (e *Error) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("%s: %s (format: %s)", e.Code, e.Message, e.Format)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of a command error anywhere in err's chain.
func CodeOf(err error) (Code, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// Command is a parsed user command.
type Command struct {
	// Raw is the trimmed input.
	Raw string
	// Name is the lower-cased command including the prefix.
	Name string
	Args []string
}

var reName = regexp.MustCompile(`^/[a-z0-9_]+$`)

// Parse splits raw into a command name and its arguments.
func Parse(raw string) (*Command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &Error{Code: CodeEmpty, Message: "command is empty"}
	}
	if utf8.RuneCountInString(raw) > MaxLength {
		return nil, &Error{Code: CodeTooLong, Message: fmt.Sprintf("command exceeds %d characters", MaxLength)}
	}
	if !strings.HasPrefix(raw, Prefix) {
		return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("command must start with %q", Prefix)}
	}

	parts := strings.Fields(raw)
	name := strings.ToLower(parts[0])
	if name == Prefix {
		return nil, &Error{Code: CodeEmpty, Message: "command name is empty"}
	}
	if !reName.MatchString(name) {
		return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("invalid command name %q", parts[0])}
	}

	return &Command{Raw: raw, Name: name, Args: parts[1:]}, nil
}
