package tools

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/brandon/mail-engine/internal/email"
)

// prop builds a JSON schema property
func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}

func stringArrayProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return strings.TrimSpace(s)
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, name string, fallback int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return fallback, nil
	case float64:
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s: expected a number", name)
	}
}

// stringListParam accepts an array of strings or a comma-separated string
func stringListParam(params map[string]interface{}, name string) []string {
	var raw []string
	switch v := params[name].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// userError rewrites engine errors into messages a client can act on
func userError(err error) error {
	switch {
	case errors.Is(err, email.ErrNotAuthenticated):
		return fmt.Errorf("session expired, please sign in again: %w", err)
	case errors.Is(err, email.ErrFolderNotFound):
		return fmt.Errorf("feature unavailable: %w", err)
	default:
		return err
	}
}
