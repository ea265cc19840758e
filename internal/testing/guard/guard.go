// Package guard is imported for its side effect: packages that build the
// in-memory harness force test mode so the binaries never dial real
// infrastructure from a test process. It must not import internal/app,
// whose own tests use the harness.
package guard

import "os"

const testModeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}
