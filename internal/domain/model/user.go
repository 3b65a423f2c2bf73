package model

import "time"

// User is an identity reference owned by the external auth service.
// The chat core only ever keys data by User.ID.
type User struct {
	ID        string
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}
