package flagparse

import (
	"fmt"

	"github.com/paulschiretz/portal-backup/pkg/util"
)

// Command is the subcommand selected on the command line.
type Command int

const (
	None Command = iota
	Items
	Reports
	Prune
	Version
)

var commandToString = map[Command]string{
	None:    "none",
	Items:   "items",
	Reports: "reports",
	Prune:   "prune",
	Version: "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'items', 'reports', 'prune' or 'version'", s)
}
