package custom_errors

import "strings"

// ValidationError collects every problem found while validating an input
// so callers can report them together.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func NewValidationError(errs ...error) *ValidationError {
	v := &ValidationError{}
	for _, err := range errs {
		v.Add(err)
	}
	return v
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return strings.Join(c.Messages(), "\n")
}

// Messages flattens the collected errors for JSON responses.
func (c *ValidationError) Messages() []string {
	out := make([]string, 0, len(c.Errors))
	for _, err := range c.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *ValidationError) Unwrap() []error {
	return c.Errors
}
