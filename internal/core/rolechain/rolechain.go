// Package rolechain holds the fixed seller -> buyer pairing of the supply chain.
package rolechain

import (
	"fmt"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

var successor = map[domain.Role]domain.Role{
	domain.RoleProducer:    domain.RoleDistributor,
	domain.RoleDistributor: domain.RoleRetailer,
	domain.RoleRetailer:    domain.RoleConsumer,
}

// Validate returns domain.ErrInvalidRoleTransition unless buyer is the
// permitted successor of seller.
func Validate(seller, buyer domain.Role) error {
	next, ok := successor[seller]
	if !ok {
		return fmt.Errorf("%w: role %s cannot sell", domain.ErrInvalidRoleTransition, seller)
	}
	if buyer != next {
		return fmt.Errorf("%w: %s can only sell to %s, not %s", domain.ErrInvalidRoleTransition, seller, next, buyer)
	}
	return nil
}

// Successor returns the only role seller may sell to.
func Successor(seller domain.Role) (domain.Role, bool) {
	next, ok := successor[seller]
	return next, ok
}
