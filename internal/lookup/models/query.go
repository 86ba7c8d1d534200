package models

import (
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "osint/pkg/domain-errors"
)

// QueryType selects which adapters serve a lookup and how its value is normalized.
type QueryType string

const (
	QueryTypePhone QueryType = "phone"
	QueryTypeEmail QueryType = "email"
)

func (t QueryType) IsValid() bool {
	return t == QueryTypePhone || t == QueryTypeEmail
}

func (t QueryType) String() string { return string(t) }

// ParseQueryType accepts the lower-case wire names.
func ParseQueryType(s string) (QueryType, error) {
	t := QueryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported query type: "+s)
	}
	return t, nil
}

// Query is an immutable lookup request. NormalizedValue is what adapters and the
// cache key see.
type Query struct {
	Type            QueryType `json:"type"`
	RawValue        string    `json:"raw_value"`
	NormalizedValue string    `json:"normalized_value"`
}

var validate = validator.New()

// NewQuery normalizes and validates raw. Failures carry CodeInvalidInput.
func NewQuery(t QueryType, raw string) (Query, error) {
	if !t.IsValid() {
		return Query{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported query type: "+string(t))
	}
	q := Query{Type: t, RawValue: raw}
	switch t {
	case QueryTypePhone:
		q.NormalizedValue = CanonicalPhone(raw)
		if err := validate.Var(q.NormalizedValue, "required,numeric,min=7,max=15"); err != nil {
			return Query{}, dErrors.New(dErrors.CodeInvalidInput, "invalid phone number")
		}
	case QueryTypeEmail:
		q.NormalizedValue = CanonicalEmail(raw)
		if err := validate.Var(q.NormalizedValue, "required,email"); err != nil {
			return Query{}, dErrors.New(dErrors.CodeInvalidInput, "invalid email address")
		}
	}
	return q, nil
}

// CanonicalPhone keeps digits only and drops a leading North American trunk
// prefix from 11-digit numbers, so "+1 412-670-4024" and "4126704024" agree.
func CanonicalPhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

func CanonicalEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
