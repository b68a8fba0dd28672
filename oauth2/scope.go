package oauth2

import "strings"

// ScopeStrategy reports whether needle is accepted by any scope in haystack.
type ScopeStrategy func(haystack []string, needle string) bool

// Scope strategy names understood by ScopeStrategyByName.
const (
	ScopeStrategyExact      = "exact"
	ScopeStrategyHierarchic = "hierarchic"
	ScopeStrategyWildcard   = "wildcard"
)

// ExactScopeStrategy accepts needle only if it is registered verbatim.
func ExactScopeStrategy(haystack []string, needle string) bool {
	for _, this := range haystack {
		if this == needle {
			return true
		}
	}
	return false
}

// HierarchicScopeStrategy accepts needle if a registered scope is a dot separated
// prefix of it: "photos" accepts "photos.read".
func HierarchicScopeStrategy(haystack []string, needle string) bool {
	needleParts := strings.Split(needle, ".")
	for _, this := range haystack {
		if this == needle {
			return true
		}
		parts := strings.Split(this, ".")
		if len(parts) > len(needleParts) {
			continue
		}
		matched := true
		for k, part := range parts {
			if needleParts[k] != part {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// WildcardScopeStrategy treats "*" segments of registered scopes as wildcards:
// "photos.*" accepts "photos.read" but not "photos".
func WildcardScopeStrategy(haystack []string, needle string) bool {
	needleParts := strings.Split(needle, ".")
	for _, this := range haystack {
		if this == needle {
			return true
		}
		parts := strings.Split(this, ".")
		if len(parts) != len(needleParts) {
			continue
		}
		matched := true
		for k, part := range parts {
			if part != "*" && part != needleParts[k] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// ScopeStrategyByName resolves a configured strategy name.
func ScopeStrategyByName(name string) (ScopeStrategy, error) {
	switch name {
	case ScopeStrategyExact:
		return ExactScopeStrategy, nil
	case ScopeStrategyHierarchic, "":
		return HierarchicScopeStrategy, nil
	case ScopeStrategyWildcard:
		return WildcardScopeStrategy, nil
	default:
		return nil, ErrServerError.WithHintf("Unknown scope strategy %q.", name)
	}
}

// ValidateScopes checks that every requested scope is accepted by a registered one.
func ValidateScopes(strategy ScopeStrategy, registered []string, requested Arguments) error {
	for _, scope := range requested {
		if !strategy(registered, scope) {
			return ErrInvalidScope.WithHintf("The OAuth 2.0 Client is not allowed to request scope '%s'.", scope).WithParam("scope")
		}
	}
	return nil
}
