//go:build !swarmcore_debug

package torrent

import (
	"fmt"

	"github.com/anacrolix/log"
)

// recoverInternal converts a recovered panic into a logged InternalError,
// per §7's "log-and-close in release": the panic is swallowed here so the
// offending operation aborts cleanly instead of crashing the process.
func recoverInternal(logger log.Logger, context string) {
	if r := recover(); r != nil {
		err := wrapErr(InternalError, context, fmt.Errorf("%v", r))
		logger.WithDefaultLevel(log.Error).Printf("%s", err.Error())
	}
}
