package orcherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestErrorIsKindMatching(t *testing.T) {
	err := NotFoundf("job %s not found", "job-1")
	assert.True(t, errors.Is(err, NotFoundf("", "")))
	assert.False(t, errors.Is(err, ConflictF("")))
}

func ConflictF(msg string) *Error {
	return Conflictf("%s", msg)
}

func TestKindOf(t *testing.T) {
	err := InsufficientResourcesf("pool %s exhausted", "pool-1")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, InsufficientResources, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrappedKindSurvivesFmtWrap(t *testing.T) {
	inner := RepositoryErrorf(errors.New("bolt tx failed"), "put execution")
	assert.True(t, Is(fmt.Errorf("store: %w", inner), RepositoryError))
	assert.Contains(t, inner.Error(), "bolt tx failed")
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		want codes.Code
	}{
		{Validation, codes.InvalidArgument},
		{NotFound, codes.NotFound},
		{Conflict, codes.AlreadyExists},
		{BusinessRule, codes.FailedPrecondition},
		{InsufficientResources, codes.ResourceExhausted},
		{Timeout, codes.DeadlineExceeded},
		{WorkerLost, codes.Unavailable},
		{WorkerDisconnected, codes.Unavailable},
		{RepositoryError, codes.Internal},
		{PermissionDenied, codes.PermissionDenied},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GRPCCode(tt.kind), "kind %s", tt.kind)
	}
}

func TestToStatus(t *testing.T) {
	st := ToStatus(NotFoundf("missing"))
	assert.Contains(t, st.Error(), "not_found")
}
