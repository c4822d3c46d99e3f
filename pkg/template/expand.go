package template

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand substitutes ${name} placeholders in s with values from vars. Unlike
// a literal string replace, an unresolved placeholder is an error, so a typo
// in a variable name fails loudly instead of passing through unchanged.
func Expand(s string, vars map[string]any) (string, error) {
	var missing []string

	expanded := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		value, ok := vars[name]
		if !ok {
			missing = append(missing, name)

			return match
		}

		return fmt.Sprintf("%v", value)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholder ${%s}", missing[0])
	}

	return expanded, nil
}

// Placeholders returns the distinct variable names referenced by s, useful
// for validating a template against declared input names at load time.
func Placeholders(s string) []string {
	seen := make(map[string]bool)

	var names []string

	for _, match := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true

			names = append(names, match[1])
		}
	}

	return names
}
