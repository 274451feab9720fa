// ABOUTME: Parser for -P dotted.key=value configuration overrides
// ABOUTME: Handles assignment splitting, key validation, and value coercion

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/riffml/riff/pkg/types"
)

// Override represents a single parsed configuration override
type Override struct {
	Key   string      // Dotted path into the config tree
	Value interface{} // Coerced value
	Raw   string      // Original key=value text
}

// String returns the override in its original key=value form
func (o Override) String() string {
	return o.Raw
}

// ParseOverrides parses the values of repeated -P flags into overrides.
// A single flag value may carry several whitespace-separated assignments,
// so -P "main.project_name=remote_execution main.random_seed=7" yields two
// overrides.
func ParseOverrides(values []string) ([]Override, error) {
	var overrides []Override

	for _, value := range values {
		for _, assignment := range splitAssignments(value) {
			override, err := parseAssignment(assignment)
			if err != nil {
				return nil, err
			}
			overrides = append(overrides, override)
		}
	}

	return overrides, nil
}

// parseAssignment parses one key=value token
func parseAssignment(token string) (Override, error) {
	parts := strings.SplitN(token, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Override{}, types.NewConfigError(token,
			"invalid override format (expected dotted.key=value)", nil)
	}

	key := strings.TrimSpace(parts[0])
	if err := validateKey(key); err != nil {
		return Override{}, err
	}

	return Override{
		Key:   key,
		Value: coerce(parts[1]),
		Raw:   token,
	}, nil
}

// validateKey checks that a dotted key has no empty segments
func validateKey(key string) error {
	for _, segment := range strings.Split(key, ".") {
		if segment == "" {
			return types.NewConfigError(key, "override key has an empty path segment", nil)
		}
	}
	return nil
}

// coerce converts a raw override value to its natural type.
// Quoted values stay strings, otherwise bools and numbers are recognized.
func coerce(raw string) interface{} {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}

	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null", "~":
		return nil
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}

	return raw
}

// tree expands the dotted key into a nested map suitable for merging
func (o Override) tree() map[string]interface{} {
	segments := strings.Split(o.Key, ".")

	result := map[string]interface{}{segments[len(segments)-1]: o.Value}
	for i := len(segments) - 2; i >= 0; i-- {
		result = map[string]interface{}{segments[i]: result}
	}

	return result
}

// splitAssignments splits a flag value into assignment tokens, honoring
// single and double quotes so spaces inside quoted values survive.
func splitAssignments(value string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	for _, r := range value {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == ' ' || r == '\t':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// FormatOverrides renders overrides back to their raw key=value strings
func FormatOverrides(overrides []Override) []string {
	raw := make([]string, len(overrides))
	for i, o := range overrides {
		raw[i] = o.Raw
	}
	return raw
}

// Describe returns a human-readable summary like "main.project_name=remote_execution"
// with the coerced type noted for debugging
func (o Override) Describe() string {
	return fmt.Sprintf("%s=%v (%T)", o.Key, o.Value, o.Value)
}
