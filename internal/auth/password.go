package auth

import (
	"fmt"
	"unicode"
)

// Password rules reported by PolicyError.
const (
	RuleMinLength = "min_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
)

// PolicyError names the first password rule a candidate failed.
type PolicyError struct {
	Rule    string
	Message string
}

func (e *PolicyError) Error() string { return e.Message }

// PasswordPolicy is the password strength policy.
type PasswordPolicy struct {
	MinLength int
}

// Validate returns a *PolicyError for the first unmet rule, or nil.
func (p PasswordPolicy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return &PolicyError{Rule: RuleMinLength, Message: fmt.Sprintf("password must be at least %d characters long", p.MinLength)}
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		return &PolicyError{Rule: RuleUppercase, Message: "password must contain at least one uppercase letter"}
	}
	if !lower {
		return &PolicyError{Rule: RuleLowercase, Message: "password must contain at least one lowercase letter"}
	}
	if !digit {
		return &PolicyError{Rule: RuleDigit, Message: "password must contain at least one digit"}
	}
	return nil
}
