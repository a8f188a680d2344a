// Package mode defines the behavioral mode entity for the chat core.
package mode

import "fmt"

// Mode represents a behavioral framing for the assistant. Its Directive is the
// system instruction fed to the generation backend when the mode is active.
type Mode struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Builtin     bool   `json:"builtin" yaml:"-"`
	Directive   string `json:"directive" yaml:"directive"`
}

// Validate checks that a Mode has all required fields.
func (m *Mode) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Directive == "" {
		return fmt.Errorf("directive is required")
	}
	return nil
}
