package errors

// Template defines a registered error type.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// ============================================
	// Configuration Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "The configuration file passed with --config does not exist.",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file is not valid TOML or has values of the wrong type.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Unknown configuration key",
		Detail:   "The configuration file sets a key that deltanet does not recognize.",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range.",
	},

	// ============================================
	// Authentication Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryAuth,
		Message:  "Missing JWT secret",
		Detail:   "Tokens cannot be signed or verified without auth.jwt_secret.",
	},
	"E121": {
		Category: CategoryAuth,
		Message:  "Token signing failed",
	},

	// ============================================
	// Serve Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryServe,
		Message:  "Server failed",
		Detail:   "The HTTP listener stopped with an error.",
	},
	"E141": {
		Category: CategorySnapshot,
		Message:  "Snapshot export misconfigured",
		Detail:   "Snapshot export needs a bucket and a positive interval.",
	},
}

// Codes returns all registered error codes.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
