package utils

// ToStringSlice keeps the string elements of a decoded JSON array.
func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// StringList reads a claim that may hold a single string or a list of strings,
// like aud and scope.
func StringList(v any) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		return s
	case []any:
		return ToStringSlice(s)
	default:
		return nil
	}
}
