package build

import "github.com/raulk/clock"

// Clock is the global clock for the system. In standard builds,
// we use a real-time clock, which maps to the `time` package.
//
// Tests that exercise timeouts or backoff replace this variable
// with a mock clock.
var Clock = clock.New()
