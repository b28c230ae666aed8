package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError is one failed rule on one named setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s=%v %s", e.Field, e.Value, e.Message)
}

// ValidationRule checks a single value; nil means it passed.
type ValidationRule func(field string, value any) *ValidationError

// Validator collects rule failures so a bad configuration is reported in one go.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs every rule against value and keeps the failures.
func (v *Validator) Field(field string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(field, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorMessage joins all failures with "; ".
func (v *Validator) ErrorMessage() string {
	messages := make([]string, len(v.errors))
	for i, err := range v.errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

func Required(field string, value any) *ValidationError {
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: field, Value: value, Message: "is required"}
	}
	if value == nil {
		return &ValidationError{Field: field, Value: value, Message: "is required"}
	}
	return nil
}

// MaxLengthRule limits a string to max runes. Excel caps sheet names at 31.
func MaxLengthRule(max int) ValidationRule {
	return func(field string, value any) *ValidationError {
		s, ok := value.(string)
		if ok && utf8.RuneCountInString(s) > max {
			return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("must be at most %d characters", max)}
		}
		return nil
	}
}

// CurrencyCode accepts three uppercase letters (ISO 4217).
func CurrencyCode(field string, value any) *ValidationError {
	s, _ := value.(string)
	if len(s) != 3 {
		return &ValidationError{Field: field, Value: value, Message: "must be exactly 3 characters (ISO 4217)"}
	}
	if !currencyRegex.MatchString(s) {
		return &ValidationError{Field: field, Value: value, Message: "must be 3 uppercase letters (ISO 4217)"}
	}
	return nil
}

// Between bounds a float inclusively.
func Between(lo, hi float64) ValidationRule {
	return func(field string, value any) *ValidationError {
		f, ok := value.(float64)
		if !ok || f < lo || f > hi {
			return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("must be within [%g, %g]", lo, hi)}
		}
		return nil
	}
}

// Positive accepts ints and durations greater than zero.
func Positive(field string, value any) *ValidationError {
	ok := false
	switch n := value.(type) {
	case int:
		ok = n > 0
	case time.Duration:
		ok = n > 0
	case float64:
		ok = n > 0
	}
	if !ok {
		return &ValidationError{Field: field, Value: value, Message: "must be positive"}
	}
	return nil
}

// NonNegative accepts ints greater than or equal to zero.
func NonNegative(field string, value any) *ValidationError {
	if n, ok := value.(int); !ok || n < 0 {
		return &ValidationError{Field: field, Value: value, Message: "must not be negative"}
	}
	return nil
}
