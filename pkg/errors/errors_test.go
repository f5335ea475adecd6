package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("activating: %w", bnerrors.NotFound("membership %s", "abc"))
	require.ErrorIs(t, err, bnerrors.ErrNotFound)
	require.NotErrorIs(t, err, bnerrors.ErrAuthorization)
	require.Equal(t, bnerrors.KindNotFound, bnerrors.KindOf(err))
}

func TestIsMatchesReason(t *testing.T) {
	err := bnerrors.Validation("output should be active")
	require.ErrorIs(t, err, bnerrors.Validation("output should be active"))
	require.NotErrorIs(t, err, bnerrors.Validation("something else"))
	require.Equal(t, "output should be active", bnerrors.Reason(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := bnerrors.Wrap(bnerrors.KindConflict, cause, "committing %d", 1)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, bnerrors.ErrConflict)
	require.Contains(t, err.Error(), "disk on fire")
}
