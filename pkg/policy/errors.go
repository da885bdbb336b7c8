package policy

import "fmt"

// ConfigError is a malformed policy. It is reported at load time and never
// reaches the evaluator.
type ConfigError struct {
	File  string // policy file, when loaded from disk
	Rule  string // rule id or index, when the problem is inside a rule
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "invalid policy"
	if e.File != "" {
		msg += " " + e.File
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(": rule %s", e.Rule)
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		msg += ": " + e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		msg += ": " + e.Msg
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
