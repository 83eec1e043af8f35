package domain

import "time"

type Role string

const (
	RoleProducer    Role = "PRODUCER"
	RoleDistributor Role = "DISTRIBUTOR"
	RoleRetailer    Role = "RETAILER"
	RoleConsumer    Role = "CONSUMER"
	RoleAdmin       Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProducer, RoleDistributor, RoleRetailer, RoleConsumer, RoleAdmin:
		return true
	}
	return false
}

// Party is a participant of the supply chain. WalletAddress is the identity
// the external anchor knows the party by.
type Party struct {
	ID            string
	Name          string
	Role          Role
	WalletAddress string
	CreatedAt     time.Time
}
