package errors

import (
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
)

var (
	// common errors
	ErrTenantMissing     = errors.New("tenant is missing")
	ErrConnectionTimeout = errors.New("connection timeout")

	// domain errors
	ErrDomainNotFound            = errors.New("domain not found")
	ErrDomainConfigurationFailed = errors.New("domain configuration failed")

	// mailbox errors
	ErrMailboxExists           = errors.New("mailbox already exists")
	ErrMailboxNotFound         = errors.New("mailbox not found")
	ErrMailboxNotOwnedByTenant = errors.New("mailbox does not belong to tenant")
)

// Orchestrator error taxonomy (spec.md §7). Only the kind is meaningful to
// callers; errors.Cause/errors.Is recovers the sentinel through any %w wrap.
var (
	ErrNoConnection       = errors.New("no connection: misconfigured account or no service available")
	ErrFrameworkFault     = errors.New("framework fault: internal wiring broken")
	ErrInvalidData        = errors.New("invalid data: caller supplied garbage")
	ErrEnqueueFailed      = errors.New("enqueue failed: store refused the write")
	ErrTimeout            = errors.New("timeout: action expired with no progress")
	ErrCancel             = errors.New("cancelled")
	ErrInternalStateReset = errors.New("internal state reset: service was torn down under the action")
)

var kindBySentinel = map[error]enum.ErrorKind{
	ErrNoConnection:       enum.NoConnection,
	ErrFrameworkFault:     enum.FrameworkFault,
	ErrInvalidData:        enum.InvalidData,
	ErrEnqueueFailed:      enum.EnqueueFailed,
	ErrTimeout:            enum.Timeout,
	ErrCancel:             enum.Cancel,
	ErrInternalStateReset: enum.InternalStateReset,
}

// KindOf classifies err against the taxonomy sentinels above by walking its
// cause chain; an unrecognized or nil error maps to FrameworkFault/NoError
// respectively.
func KindOf(err error) enum.ErrorKind {
	if err == nil {
		return enum.NoError
	}
	for sentinel, kind := range kindBySentinel {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return enum.FrameworkFault
}
