package errors

import (
	"errors"

	"stepgate/pkg/filter"
)

// FromFilterError converts a filter evaluation or decoding failure into an
// application error carrying the node path. Other errors are returned as is.
func FromFilterError(err error) error {
	if err == nil {
		return nil
	}

	var fe *filter.Error
	if !errors.As(err, &fe) {
		return err
	}

	base := ErrMalformedFilter
	if fe.Kind == filter.KindInvalidFieldReference {
		base = ErrInvalidFieldReference
	}

	path := fe.Path
	if path == "" {
		path = "root"
	}
	details := map[string]interface{}{
		"path":   path,
		"reason": fe.Reason,
	}
	if fe.Ref != nil {
		details["field"] = fe.Ref.String()
	}

	return base.WithCause(err).WithDetails(details).AsFatal()
}
