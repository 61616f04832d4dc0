package model

import "fmt"

// ConfigurationError means an indicator lacks the parameters its
// normalization method needs. It is not retryable.
type ConfigurationError struct {
	IndicatorCode string
	Reason        string
}

func (e *ConfigurationError) Error() string {
	if e.IndicatorCode == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: indicator %s: %s", e.IndicatorCode, e.Reason)
}

// InsufficientDataError means a pillar had no scored indicator when a
// definite severity was required.
type InsufficientDataError struct {
	Subject string
	Pillar  Pillar
}

func (e *InsufficientDataError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("insufficient data: pillar %s has no scored indicators", e.Pillar)
	}
	return fmt.Sprintf("insufficient data: subject %s: pillar %s has no scored indicators", e.Subject, e.Pillar)
}
