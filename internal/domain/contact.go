package domain

import "time"

// Contact is an addressable person in the contact store. Recipients
// reference contacts weakly: a communication owns its recipient rows but
// only points at the contact.
type Contact struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	Organization string    `json:"organization" db:"organization"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
