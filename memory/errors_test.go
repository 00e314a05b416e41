package memory

import (
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestClassify(t *testing.T) {
	cause := errors.New("connection refused")

	err := classify(ErrStorage, goerr.Wrap(cause, "failed to add document"))
	gt.True(t, errors.Is(err, ErrStorage))
	gt.True(t, errors.Is(err, cause))
	gt.False(t, errors.Is(err, ErrServiceUnavailable))
	gt.S(t, err.Error()).Contains("failed to add document")

	notFound := goerr.Wrap(ErrNotFound, "no such record", goerr.V("id", "x"))
	err = classify(ErrStorage, notFound)
	gt.True(t, errors.Is(err, ErrNotFound))
	gt.False(t, errors.Is(err, ErrStorage))

	gt.NoError(t, classify(ErrStorage, nil))
	gt.True(t, errors.Is(Unavailable(cause), ErrServiceUnavailable))
}
