// Package errors provides structured, actionable error messages for the
// lithium command line.
//
// Errors carry a code, a category, a short message, a longer detail and an
// optional hint. Config file errors also carry the file location and the
// surrounding lines, so a bad lithium.toml points at the offending line.
//
// # Error Codes
//
// Codes are grouped by category:
//   - E100-E119 config: lithium.toml loading and validation
//   - E120-E139 protocol: envelopes given to the decode and encode commands
//   - E140-E159 server: listeners and startup
//   - E160-E179 cli: command usage
//
// # Usage
//
//	err := errors.New("E101").
//	    WithLocation("lithium.toml", 7, 12).
//	    WithSuggestion("Durations are strings such as \"30s\" or \"1m\"")
//
//	fmt.Fprint(os.Stderr, err.Format())
//	// Output:
//	// ERROR E101: Invalid config file
//	//
//	//   lithium.toml:7:12
//	//
//	//        5 │ [connection]
//	//        6 │ read_timeout = "60s"
//	//   →    7 │ ping_interval = 15
//	//          │            ^
//	//
//	//   Hint: Durations are strings such as "30s" or "1m"
package errors
