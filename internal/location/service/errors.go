package service

import (
	"errors"

	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/sentinel"
)

func translateStoreError(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "location store unavailable")
}
