package service

import (
	"errors"

	"ecommerce/internal/apperr"
)

// dependency reports err as a collaborator failure of op.
func dependency(op string, err error) error {
	return apperr.Dependency(op, err)
}

// passThrough keeps taxonomy errors as they are and classifies anything
// else as a collaborator failure.
func passThrough(op string, err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Dependency(op, err)
}
