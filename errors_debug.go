//go:build swarmcore_debug

package torrent

import "github.com/anacrolix/log"

// recoverInternal re-raises any recovered panic immediately, per §7's
// "abort in debug builds": a swarmcore_debug build wants the native
// panic and stack trace, not a swallowed InternalError.
func recoverInternal(logger log.Logger, context string) {
	if r := recover(); r != nil {
		panic(r)
	}
}
