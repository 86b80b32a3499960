package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E119)
	// ============================================

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file does not exist.",
		Suggestion: "Run 'lithium serve' without --config to use defaults, or create lithium.toml",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The configuration file is not valid TOML or a value has the wrong type.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range or inconsistent with another.",
	},
	"E103": {
		Category:   CategoryConfig,
		Message:    "Unknown config key",
		Detail:     "The configuration file contains keys lithium does not recognize.",
		Suggestion: "Check the key for typos",
	},
	"E104": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Detail:     "Durations are written as Go duration strings.",
		Suggestion: "Use values such as \"500ms\", \"30s\" or \"1m\"",
	},

	// ============================================
	// Protocol Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryProtocol,
		Message:  "Malformed packet",
		Detail:   "The payload does not follow the packet's layout.",
	},
	"E121": {
		Category: CategoryProtocol,
		Message:  "Packet out of bounds",
		Detail:   "An offset or length in the payload points past the end of the data.",
	},
	"E122": {
		Category:   CategoryProtocol,
		Message:    "Unknown packet",
		Detail:     "The packet id is not registered.",
		Suggestion: "Run 'lithium packets' to list registered ids",
	},
	"E123": {
		Category: CategoryProtocol,
		Message:  "Packet too large",
		Detail:   "The payload exceeds the packet type's maximum size.",
	},
	"E124": {
		Category: CategoryProtocol,
		Message:  "Invalid packet definition",
		Detail:   "A packet type's field tags do not describe a valid layout.",
	},
	"E125": {
		Category:   CategoryProtocol,
		Message:    "Invalid hex input",
		Detail:     "The envelope must be given as hexadecimal bytes.",
		Suggestion: "Whitespace between bytes is allowed, e.g. \"06000000 01000000 ...\"",
	},

	// ============================================
	// Server Errors (E140-E159)
	// ============================================

	"E140": {
		Category:   CategoryServer,
		Message:    "Listen failed",
		Detail:     "The server could not bind its listen address.",
		Suggestion: "Check that no other process uses the port",
	},
	"E141": {
		Category: CategoryServer,
		Message:  "Registry build failed",
		Detail:   "The packet registry could not be built from the packet definitions.",
	},

	// ============================================
	// CLI Errors (E160-E179)
	// ============================================

	"E160": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
		Detail:   "The command was called with invalid arguments.",
	},
	"E161": {
		Category:   CategoryCLI,
		Message:    "Unknown sample",
		Detail:     "No sample packet exists under this name.",
		Suggestion: "Run 'lithium encode-sample --list' to see the available samples",
	},
}

// GetAllCodes returns all registered error codes in ascending order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
