package loom_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
)

func TestNotFoundError(t *testing.T) {
	err := loom.NewNotFoundError("User")
	assert.Equal(t, "loom: User not found", err.Error())
	assert.Equal(t, "User", err.Label())
	assert.Nil(t, err.ID())

	withID := loom.NewNotFoundErrorWithID("User", 42)
	assert.Equal(t, "loom: User not found (id=42)", withID.Error())
	assert.Equal(t, 42, withID.ID())

	t.Run("sentinel", func(t *testing.T) {
		assert.True(t, errors.Is(err, loom.ErrNotFound))
		assert.False(t, errors.Is(err, loom.ErrNotSingular))
	})

	t.Run("predicate", func(t *testing.T) {
		assert.True(t, loom.IsNotFound(err))
		assert.True(t, loom.IsNotFound(fmt.Errorf("find user: %w", err)))
		assert.True(t, loom.IsNotFound(loom.ErrNotFound))
		assert.False(t, loom.IsNotFound(errors.New("other")))
		assert.False(t, loom.IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	err := loom.NewNotSingularError("User")
	assert.Equal(t, "loom: User not singular", err.Error())

	counted := loom.NewNotSingularErrorWithCount("User", 3)
	assert.Equal(t, "loom: User not singular (got 3 results, expected 1)", counted.Error())

	assert.True(t, errors.Is(err, loom.ErrNotSingular))
	assert.True(t, loom.IsNotSingular(fmt.Errorf("wrapped: %w", counted)))
	assert.False(t, loom.IsNotSingular(loom.ErrNotFound))
	assert.False(t, loom.IsNotSingular(nil))
}

func TestNotLoadedError(t *testing.T) {
	err := loom.NewNotLoadedError("posts")
	assert.Equal(t, `loom: relation "posts" was not loaded`, err.Error())
	assert.Equal(t, "posts", err.Alias())
	assert.True(t, loom.IsNotLoaded(err))
	assert.True(t, loom.IsNotLoaded(fmt.Errorf("access: %w", err)))
	assert.False(t, loom.IsNotLoaded(loom.ErrNotFound))
	assert.False(t, loom.IsNotLoaded(nil))
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := loom.NewConstraintError("users_email_key", cause)
	assert.Equal(t, "loom: constraint failed: users_email_key", err.Error())
	assert.True(t, loom.IsConstraintError(err))
	assert.True(t, loom.IsConstraintError(fmt.Errorf("insert: %w", err)))
	assert.False(t, loom.IsConstraintError(cause))
	assert.False(t, loom.IsConstraintError(nil))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestValidationError(t *testing.T) {
	t.Run("no violations", func(t *testing.T) {
		err := loom.NewValidationError("User", nil)
		assert.Equal(t, "loom: validation failed for User", err.Error())
	})

	t.Run("violations", func(t *testing.T) {
		err := loom.NewValidationError("User", []loom.Violation{
			{Attribute: "email", Message: "cannot be null"},
			{Attribute: "age", Message: "value out of range"},
		})
		assert.Equal(t, "loom: validation failed for User: email: cannot be null; age: value out of range", err.Error())
		assert.True(t, loom.IsValidationError(err))
		assert.True(t, loom.IsValidationError(fmt.Errorf("create: %w", err)))
	})

	assert.False(t, loom.IsValidationError(nil))
	assert.False(t, loom.IsValidationError(errors.New("other")))
}

func TestRollbackError(t *testing.T) {
	cause := errors.New("insert failed")
	rberr := errors.New("connection lost")
	err := &loom.RollbackError{Cause: cause, Err: rberr}
	assert.Equal(t, "loom: rollback failed: connection lost (original: insert failed)", err.Error())
	require.ErrorIs(t, err, cause)
}
