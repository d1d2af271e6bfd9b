package client

import (
	"errors"
	"syscall"

	"github.com/avast/retry-go/v4"

	"tfsbroker/internal/util"
)

// retryIfNoBroker retries while the registration pipe is missing or has
// no reader yet, which is the window of a broker still starting up.
func retryIfNoBroker() retry.Option {
	return retry.RetryIf(func(err error) bool {
		return util.IsNotExist(err) || errors.Is(err, syscall.ENXIO)
	})
}
