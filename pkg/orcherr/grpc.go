package orcherr

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps a Kind to the status code the worker streaming gRPC
// service returns, mirroring the status.Errorf(...) calls the teacher's
// server.go makes per failure case, but table-driven off Kind instead of
// repeated per call site.
func GRPCCode(kind Kind) codes.Code {
	switch kind {
	case Validation:
		return codes.InvalidArgument
	case NotFound:
		return codes.NotFound
	case Conflict:
		return codes.AlreadyExists
	case BusinessRule:
		return codes.FailedPrecondition
	case InsufficientResources:
		return codes.ResourceExhausted
	case Timeout:
		return codes.DeadlineExceeded
	case ProtocolViolation:
		return codes.InvalidArgument
	case WorkerLost, WorkerDisconnected:
		return codes.Unavailable
	case RepositoryError:
		return codes.Internal
	case PermissionDenied:
		return codes.PermissionDenied
	default:
		return codes.Unknown
	}
}

// ToStatus converts err into a *status.Status, using GRPCCode when err is
// an *Error and falling back to codes.Internal otherwise. context errors
// are mapped to their natural gRPC equivalents first.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if kind, ok := KindOf(err); ok {
		return status.Error(GRPCCode(kind), err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
