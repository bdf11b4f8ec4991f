// Package time contains clock helpers shared by services
package time

import "time"

// Now returns the current time in UTC. Services use it as their default clock
func Now() time.Time { return time.Now().UTC() }
