package formula

import "fmt"

// FormulaError reports a formula that could not be parsed or evaluated.
// Callers treat the formula's contribution as 0 and keep going.
type FormulaError struct {
	Reason     string
	RawFormula string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.RawFormula, e.Reason)
}

func newError(raw string, format string, args ...any) *FormulaError {
	return &FormulaError{Reason: fmt.Sprintf(format, args...), RawFormula: raw}
}
