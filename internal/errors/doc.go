// Package errors provides structured, actionable errors for the deltanet
// command.
//
// Each error carries a code that maps to a registered template with a short
// message and a longer explanation. Callers add a detail line, a hint and the
// wrapped cause:
//
//	err := errors.New("E101").
//	    WithDetail(`tick_interval: time: invalid duration "fast"`).
//	    WithSuggestion("Durations use Go syntax, e.g. \"50ms\" or \"15s\"").
//	    Wrap(cause)
//
//	errors.PrintError(err)
//	// ERROR E101: Invalid configuration file
//	//
//	//   tick_interval: time: invalid duration "fast"
//	//
//	//   Hint: Durations use Go syntax, e.g. "50ms" or "15s"
//
// # Error Codes
//
//   - E100-E119: configuration
//   - E120-E139: authentication and tokens
//   - E140-E159: serving and snapshot export
package errors
