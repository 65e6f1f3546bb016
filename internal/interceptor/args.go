package interceptor

import (
	"regexp"
	"strings"
)

// Commands whose outcome is reported.
var wrappedCommands = map[string]bool{
	"backup":  true,
	"copy":    true,
	"prune":   true,
	"check":   true,
	"restore": true,
}

// Commands that are passed straight to the real binary.
var passthroughCommands = map[string]bool{
	"init":      true,
	"list":      true,
	"cat":       true,
	"diff":      true,
	"history":   true,
	"password":  true,
	"add":       true,
	"set":       true,
	"info":      true,
	"benchmark": true,
	"help":      true,
	"h":         true,
}

// Global options that consume the following argument.
var valueOptions = map[string]bool{
	"-profile":  true,
	"-suppress": true,
	"-comment":  true,
}

// Options are the keys recognized in the -comment global option.
type Options struct {
	LogAtStart   bool
	LogVerbose   bool
	Healthchecks string
}

// Invocation is the parsed argument vector of one interceptor run.
type Invocation struct {
	// Args is the full argument vector without the program name. It is
	// passed to the real binary unchanged.
	Args    []string
	Command string
	Comment string
	Options Options
}

// Wrapped reports whether the command's outcome is reported.
func (inv Invocation) Wrapped() bool {
	return wrappedCommands[inv.Command]
}

// Passthrough reports whether the command is a known command that is run
// without reporting.
func (inv Invocation) Passthrough() bool {
	return passthroughCommands[inv.Command]
}

// CommandLine renders the argument vector for messages.
func (inv Invocation) CommandLine() string {
	return strings.Join(inv.Args, " ")
}

// Operation returns the command name, or "?" when none was found.
func (inv Invocation) Operation() string {
	if inv.Command == "" {
		return "?"
	}
	return inv.Command
}

// ParseArgs walks the duplicacy global options up to the command word.
func ParseArgs(args []string) Invocation {
	inv := Invocation{Args: append([]string(nil), args...)}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, value, ok := strings.Cut(arg, "="); ok && valueOptions[name] {
			if name == "-comment" {
				inv.Comment = value
			}
			continue
		}

		if valueOptions[arg] {
			if arg == "-comment" && i+1 < len(args) {
				inv.Comment = args[i+1]
			}
			i++
			continue
		}

		if strings.HasPrefix(arg, "-") {
			continue
		}

		inv.Command = arg
		break
	}

	inv.Options = ParseOptions(inv.Comment)
	return inv
}

var spacedEquals = regexp.MustCompile(`\s*=\s*`)

// ParseOptions decodes the option keys of a -comment value. Keys are
// separated by commas, semicolons or whitespace. Boolean keys are true when
// present without a value; "false", "0", "no" and "off" turn them off.
// Unknown keys are ignored.
func ParseOptions(comment string) Options {
	var opts Options

	normalized := spacedEquals.ReplaceAllString(comment, "=")
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})

	for _, field := range fields {
		field = strings.Trim(field, `'"`)
		key, value, _ := strings.Cut(field, "=")
		value = strings.Trim(value, `'"`)

		switch key {
		case "log_at_start":
			opts.LogAtStart = parseBool(value)
		case "log_verbose":
			opts.LogVerbose = parseBool(value)
		case "healthchecks":
			opts.Healthchecks = value
		}
	}
	return opts
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}
