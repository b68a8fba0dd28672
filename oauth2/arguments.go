package oauth2

import "strings"

// Arguments is an order-irrelevant set of space delimited protocol values such as
// scopes, response types or grant types.
type Arguments []string

// SplitArguments splits a space delimited parameter into Arguments, dropping empty values.
func SplitArguments(raw string) Arguments {
	return Arguments(strings.Fields(raw))
}

// Has reports whether every item is present.
func (a Arguments) Has(items ...string) bool {
	for _, item := range items {
		if !a.contains(item) {
			return false
		}
	}
	return true
}

// HasOneOf reports whether at least one item is present.
func (a Arguments) HasOneOf(items ...string) bool {
	for _, item := range items {
		if a.contains(item) {
			return true
		}
	}
	return false
}

// ExactOne reports whether the set is exactly {name}.
func (a Arguments) ExactOne(name string) bool {
	return a.Matches(name)
}

// Matches reports whether the set equals items, ignoring order and duplicates.
// Handlers use it to claim requests so a partial match can never smuggle an
// unhandled value through the chain.
func (a Arguments) Matches(items ...string) bool {
	want := make(map[string]struct{}, len(items))
	for _, item := range items {
		want[item] = struct{}{}
	}
	got := make(map[string]struct{}, len(a))
	for _, item := range a {
		if _, ok := want[item]; !ok {
			return false
		}
		got[item] = struct{}{}
	}
	return len(got) == len(want)
}

// Append adds values that are not yet present.
func (a Arguments) Append(items ...string) Arguments {
	out := a
	for _, item := range items {
		if item == "" || out.contains(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// String joins the arguments with spaces.
func (a Arguments) String() string {
	return strings.Join(a, " ")
}

func (a Arguments) contains(item string) bool {
	for _, v := range a {
		if v == item {
			return true
		}
	}
	return false
}
