// Package guid implements the record identifier used throughout the Web API.
//
// Identifiers are accepted with or without surrounding braces and in any hex
// case. The canonical form is brace-free, upper-case and 36 characters long,
// which is the form written into resource paths and headers.
package guid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidGuid is matched by every ValidationError returned from Parse.
var ErrInvalidGuid = errors.New("invalid guid")

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidationError reports an identifier that does not have the 8-4-4-4-12 shape.
type ValidationError struct {
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("id %s is not a valid GUID", e.Value)
}

// Is lets errors.Is(err, ErrInvalidGuid) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGuid
}

// Guid is an immutable, canonicalized record identifier.
type Guid struct {
	value string
}

// Parse strips braces, validates and canonicalizes raw.
func Parse(raw string) (Guid, error) {
	stripped := strings.NewReplacer("{", "", "}", "").Replace(raw)
	if !guidPattern.MatchString(stripped) {
		return Guid{}, &ValidationError{Value: stripped}
	}

	u, err := uuid.Parse(stripped)
	if err != nil {
		return Guid{}, &ValidationError{Value: stripped}
	}

	return Guid{value: strings.ToUpper(u.String())}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for constants and tests.
func MustParse(raw string) Guid {
	g, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return g
}

// New returns a random identifier.
func New() Guid {
	return Guid{value: strings.ToUpper(uuid.NewString())}
}

// String returns the canonical form.
func (g Guid) String() string {
	return g.value
}

// IsZero reports whether g was never assigned a value.
func (g Guid) IsZero() bool {
	return g.value == ""
}

// Equals compares two identifiers case-insensitively.
func (g Guid) Equals(other *Guid) bool {
	return Equal(&g, other)
}

// Equal is false when either operand is nil, otherwise compares canonical forms ignoring case.
func Equal(a, b *Guid) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.value, b.value)
}

// MarshalJSON writes the canonical string.
func (g Guid) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.value + `"`), nil
}

// UnmarshalJSON parses and validates a JSON string.
func (g *Guid) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
