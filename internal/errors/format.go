package errors

import (
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	ce, ok := err.(*ContextError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(ce.Message)
	sb.WriteString("\n")

	if ce.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(ce.Suggestion)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", ce.Code))

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ce, ok := err.(*ContextError)
	if !ok {
		ce = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ce.Message))

	if ce.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ce.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", ce.Code))

	return sb.String()
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ce, ok := err.(*ContextError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ce.Code,
		"message":    ce.Message,
		"category":   string(ce.Category),
		"severity":   string(ce.Severity),
		"retryable":  ce.Retryable,
	}

	if ce.Cause != nil {
		result["cause"] = ce.Cause.Error()
	}

	for k, v := range ce.Details {
		result["detail_"+k] = v
	}

	return result
}
