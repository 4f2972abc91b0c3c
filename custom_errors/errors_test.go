package custom_errors

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationError_AddAndError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	v.Add(nil)
	assert.False(t, v.HasError())

	v.Add(errors.New("first"))
	v.Add(errors.New("second"))
	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "first")
	assert.Contains(t, v.Error(), "second")
	assert.Equal(t, []string{"first", "second"}, v.Messages())
}

func TestIsValidation(t *testing.T) {
	cronErr := errors.Mark(errors.Wrap(errors.New("expected 5 fields"), "parse"), ErrInvalidCron)
	assert.True(t, IsValidation(cronErr))
	assert.True(t, IsValidation(errors.Wrap(NewValidationError(errors.New("jobType is required")), "create job")))
	assert.False(t, IsValidation(ErrJobNotFound))
	assert.False(t, IsValidation(nil))
}

func TestDispatchAndExecutionMarks(t *testing.T) {
	cause := errors.New("connection refused")

	d := Dispatch(cause, "publish")
	assert.True(t, errors.Is(d, ErrDispatch))
	assert.False(t, errors.Is(d, ErrExecution))
	assert.Contains(t, d.Error(), "connection refused")

	e := Execution(cause, "report")
	assert.True(t, errors.Is(e, ErrExecution))
	assert.Contains(t, e.Error(), `job type "report"`)
}
