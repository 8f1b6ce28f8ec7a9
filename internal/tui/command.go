package tui

import (
	"fmt"
	"strings"
)

// Composer commands. Anything not starting with '/' is sent as text.
const (
	CmdImage = "image"
	CmdRetry = "retry"
	CmdQuit  = "quit"
	CmdBack  = "back"
)

// Command is a parsed composer command.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits "/name args". ok is false for plain text; "//" escapes
// a message that starts with a slash.
func ParseCommand(input string) (cmd Command, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return Command{}, false
	}
	parts := strings.SplitN(input[1:], " ", 2)
	cmd.Name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd, true
}

// Validate checks the command name and required arguments.
func (c Command) Validate() error {
	switch c.Name {
	case CmdImage:
		if c.Args == "" {
			return fmt.Errorf("usage: /%s <path>", CmdImage)
		}
	case CmdRetry, CmdQuit, CmdBack:
	default:
		return fmt.Errorf("unknown command /%s", c.Name)
	}
	return nil
}

// Unescape strips the escaping slash from "//text".
func Unescape(input string) string {
	if strings.HasPrefix(input, "//") {
		return input[1:]
	}
	return input
}
