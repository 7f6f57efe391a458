// Package source contains the engine's candidate producers: the schedule
// table, the stub calendar, and the external search poller. Each one turns
// its upstream into engine.Candidate values and stays out of admission and
// delivery entirely.
package source

import "errors"

// ErrInvalidTiming rejects events and schedules whose target lies in the past.
var ErrInvalidTiming = errors.New("target time is in the past")
