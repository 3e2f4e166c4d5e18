package cli

import "github.com/alecthomas/kong"

type CLI struct {
	GenerateSecret GenerateSecret   `kong:"cmd,help='Generate new signing secret.'"`
	CheckPath      CheckPath        `kong:"cmd,help='Check paths against threat signatures.'"`
	Run            Run              `kong:"cmd,help='Run server.'"`
	Health         Health           `kong:"cmd,help='Check server health.'"`
	Limits         Limits           `kong:"cmd,help='Show or reset rate limits of a client.'"`
	Version        kong.VersionFlag `kong:"help='Print version.',short='v'"`
}
