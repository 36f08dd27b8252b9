package fanout

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// transportKind classifies a transport-level (non-application) RPC error
// per the table in specification §4.E.
type transportKind int

const (
	transportOther transportKind = iota
	transportTimeout
	transportUnavailable
)

func classifyTransportErr(err error) transportKind {
	if err == nil {
		return transportOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transportTimeout
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.ResourceExhausted:
		return transportTimeout
	case codes.Unavailable:
		return transportUnavailable
	default:
		return transportOther
	}
}
