// Package classify maps arbitrary failures to a closed error taxonomy.
//
// Every failure that reaches the resilience layer is translated exactly once
// into a ClassifiedError. The category drives recovery decisions (whether a
// local backup should be restored, whether a session refresh is attempted)
// and the wording shown to end users. Classification is pure: it has no side
// effects and returns identical results for identical inputs.
package classify

// Category is the kind of failure that occurred.
type Category string

// Error categories. The set is closed; UNKNOWN is the fallback.
const (
	CategoryNetwork        Category = "NETWORK"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryPermission     Category = "PERMISSION"
	CategoryValidation     Category = "VALIDATION"
	CategoryNotFound       Category = "RESOURCE_NOT_FOUND"
	CategoryServer         Category = "SERVER"
	CategoryTimeout        Category = "TIMEOUT"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryStorage        Category = "STORAGE"
	CategoryUnknown        Category = "UNKNOWN"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryNetwork,
	CategoryAuthentication,
	CategoryPermission,
	CategoryValidation,
	CategoryNotFound,
	CategoryServer,
	CategoryTimeout,
	CategoryRateLimit,
	CategoryStorage,
	CategoryUnknown,
}

// Recoverable reports the default recoverability of the category.
func (c Category) Recoverable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryServer,
		CategoryRateLimit, CategoryStorage, CategoryAuthentication:
		return true
	default:
		return false
	}
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// In reports whether c is one of the given categories.
func (c Category) In(set ...Category) bool {
	for _, s := range set {
		if c == s {
			return true
		}
	}
	return false
}
