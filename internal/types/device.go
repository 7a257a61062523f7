package types

import "time"

// Device is a registered push notification target. Delivery transport is an
// external collaborator; the server only keeps tokens to hand off.
type Device struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}
