package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("bad", nil).StatusCode())
	assert.Equal(t, http.StatusNotFound, NotFound("bed", nil).StatusCode())
	assert.Equal(t, http.StatusConflict, Conflict("busy").StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, Storage("select", fmt.Errorf("down")).StatusCode())
	assert.Equal(t, http.StatusUnauthorized, Unauthorized(nil).StatusCode())
	assert.Equal(t, http.StatusInternalServerError, Internal(nil).StatusCode())
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to assign bed: %w", Conflictf("bed %s is %s", "B1", "occupied"))

	assert.True(t, IsConflict(err))
	assert.False(t, IsStorage(err))
	assert.Equal(t, "failed to assign bed: bed B1 is occupied", err.Error())

	assert.False(t, IsNotFound(nil))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Storage("update bed", fmt.Errorf("connection reset"))
	assert.Equal(t, "storage failure during update bed: connection reset", err.Error())
	assert.EqualError(t, err.Unwrap(), "connection reset")
}
