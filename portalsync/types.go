package portalsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shopspring/decimal"
)

// FetchErrorKind classifies per-lot fetch failures. They are isolated: the
// caller logs them, counts them and moves on; a batch is never aborted by
// one lot.
type FetchErrorKind string

const (
	FetchTimeout      FetchErrorKind = "timeout"
	FetchParseFailure FetchErrorKind = "parse_failure"
	FetchTransient    FetchErrorKind = "transient"
)

// FetchError carries the lot and stage so a failure is diagnosable from the
// log line alone.
type FetchError struct {
	Kind      FetchErrorKind
	LotNumber string
	Stage     string
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s failed (%s, stage=%s)", e.LotNumber, e.Kind, e.Stage)
	}
	return fmt.Sprintf("fetch %s failed (%s, stage=%s): %v", e.LotNumber, e.Kind, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(lot, stage string, err error) *FetchError {
	return &FetchError{
		Kind:      classifyFetchError(err),
		LotNumber: lot,
		Stage:     stage,
		Err:       err,
	}
}

func parseFailure(lot, stage, field string) *FetchError {
	return &FetchError{
		Kind:      FetchParseFailure,
		LotNumber: lot,
		Stage:     stage,
		Err:       fmt.Errorf("required field %q missing or malformed", field),
	}
}

func classifyFetchError(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FetchTimeout
		}
		return FetchTransient
	}
	return FetchTransient
}

// IsFetchKind reports whether err is a FetchError of the given kind.
func IsFetchKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// VolatileFields is the result of the cheap pass: only the two fields that
// change between full fetches.
type VolatileFields struct {
	CurrentBid *decimal.Decimal
	EndDate    *time.Time
}
