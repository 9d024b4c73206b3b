package scoring

import "errors"

// ErrDependencyUnavailable marks a failure to reach an external store. It is
// the only check failure that aborts a verification; callers should retry.
var ErrDependencyUnavailable = errors.New("dependency unavailable")
