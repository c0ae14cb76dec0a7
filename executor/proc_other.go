//go:build !unix

package executor

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; the
// default CommandContext cancellation kills only the shell itself.
func setProcessGroup(_ *exec.Cmd) {}
