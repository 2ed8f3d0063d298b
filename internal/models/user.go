package models

import "time"

// Passenger is the read-only directory record matched by identity.
type Passenger struct {
	ID            string `json:"id" example:"4b7f0c1e-4a55-4c1a-9d0e-0c7f1b1f7a10"`
	Identity      string `json:"identity" example:"118520147"`   // national identity (cedula)
	Name          string `json:"name" example:"Laura Gomez"`     // full name
	ClientCompany string `json:"clientCompany" example:"Acme"`   // employer / contracting client
	ContractType  string `json:"contractType" example:"PREPAID"` // fare contract
}

type Operator struct {
	ID        string     `json:"id" example:"7d1c3f0e-27a5-4fd2-9d63-5a3fb1a7a0c2"`
	Email     string     `json:"email" example:"ops@example.com"`
	FullName  string     `json:"fullName" example:"Back Office"`
	Role      string     `json:"role" example:"operator"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
