// Package uuidvalidate enforces the canonical 8-4-4-4-12 UUID text form, a
// stricter check than google/uuid.Parse alone (which also accepts the
// Microsoft GUID braces/urn:uuid: forms and a handful of other looser
// encodings).
package uuidvalidate

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// InvalidUUID is returned by Validate when value is not a canonical UUID.
type InvalidUUID struct {
	Value string
}

func (e *InvalidUUID) Error() string {
	return fmt.Sprintf("not a valid UUID: %q", e.Value)
}

var canonicalForm = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Validate returns nil if value is a canonical, lowercase, hyphenated UUID,
// and an *InvalidUUID otherwise.
func Validate(value string) error {
	if !canonicalForm.MatchString(value) {
		return &InvalidUUID{Value: value}
	}
	if _, err := uuid.Parse(value); err != nil {
		return &InvalidUUID{Value: value}
	}
	return nil
}
