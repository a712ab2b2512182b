// Package profile defines the username record the identity registry manages.
package profile

import "time"

// Profile binds a display username to an owner address. At most one profile
// exists per owner; re-registering overwrites the username in place, no
// history is kept.
type Profile struct {
	Key       string
	Owner     string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
