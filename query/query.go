// Package query answers current-version questions about a node's local
// view of its business networks. A caller asking about a network it has no
// membership in gets an authorization error, never an empty answer.
package query

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/vault"
)

// Self identifies the querying party. Its key may change over time.
type Self interface {
	Party() party.Party
}

type Service struct {
	vault *vault.Vault
	self  Self
}

func New(v *vault.Vault, self Self) *Service {
	return &Service{vault: v, self: self}
}

func (s *Service) memberships(ctx context.Context, networkID string, filter func(state.Membership) bool) ([]state.StateAndRef, error) {
	return s.vault.List(ctx, state.KindMembership, func(sr state.StateAndRef) bool {
		m := sr.State.Membership
		return m != nil && m.NetworkID == networkID && (filter == nil || filter(*m))
	})
}

func (s *Service) membership(ctx context.Context, networkID string, id peer.ID) (*state.StateAndRef, error) {
	found, err := s.memberships(ctx, networkID, func(m state.Membership) bool {
		return m.Holder().ID == id
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// authorize fails unless the caller holds a membership of the network.
func (s *Service) authorize(ctx context.Context, networkID string) error {
	self := s.self.Party()
	m, err := s.membership(ctx, networkID, self.ID)
	if err != nil {
		return err
	}
	if m == nil {
		return bnerrors.Authorization("%s is not a member of network %q", self, networkID)
	}
	return nil
}

// NetworkExists reports whether any membership of the network is held
// locally.
func (s *Service) NetworkExists(ctx context.Context, networkID string) (bool, error) {
	found, err := s.memberships(ctx, networkID, nil)
	return len(found) > 0, err
}

func (s *Service) IsMember(ctx context.Context, networkID string, id peer.ID) (bool, error) {
	m, err := s.membership(ctx, networkID, id)
	return m != nil, err
}

// Self returns the caller's own membership of the network.
func (s *Service) Self(ctx context.Context, networkID string) (*state.StateAndRef, error) {
	return s.Membership(ctx, networkID, s.self.Party().ID)
}

// Membership returns the membership held by id, or nil.
func (s *Service) Membership(ctx context.Context, networkID string, id peer.ID) (*state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.membership(ctx, networkID, id)
}

// MembershipByID returns a membership by linear id, or nil. Any member of
// the membership's network may read it, which includes the observers that
// received a copy through synchronization.
func (s *Service) MembershipByID(ctx context.Context, id state.LinearID) (*state.StateAndRef, error) {
	sr, err := s.vault.Get(ctx, state.KindMembership, id)
	if err != nil || sr == nil {
		return nil, err
	}
	if err := s.authorize(ctx, sr.State.Membership.NetworkID); err != nil {
		return nil, err
	}
	return sr, nil
}

// Memberships returns every membership of the network.
func (s *Service) Memberships(ctx context.Context, networkID string) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.memberships(ctx, networkID, nil)
}

// MembershipsWithStatus returns the memberships of the network in any of
// the given statuses.
func (s *Service) MembershipsWithStatus(ctx context.Context, networkID string, statuses ...state.Status) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.memberships(ctx, networkID, func(m state.Membership) bool {
		for _, st := range statuses {
			if m.Status == st {
				return true
			}
		}
		return false
	})
}

// MembersAuthorisedToModifyMembership returns the active memberships
// holding any of the activate, suspend or revoke permissions.
func (s *Service) MembersAuthorisedToModifyMembership(ctx context.Context, networkID string) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.memberships(ctx, networkID, func(m state.Membership) bool {
		return m.IsActive() && m.CanModifyMembership()
	})
}

// MembersWithPermissions returns the active memberships holding all of the
// permissions.
func (s *Service) MembersWithPermissions(ctx context.Context, networkID string, perms ...state.Permission) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.memberships(ctx, networkID, func(m state.Membership) bool {
		return m.IsActive() && m.Roles.HasAll(perms...)
	})
}

// SafeToRemovePermissions reports whether the permissions can be taken
// from holder without leaving any of them with no active holder in the
// network.
func (s *Service) SafeToRemovePermissions(ctx context.Context, networkID string, holder peer.ID, perms ...state.Permission) (bool, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return false, err
	}
	for _, p := range perms {
		others, err := s.memberships(ctx, networkID, func(m state.Membership) bool {
			return m.IsActive() && m.Holder().ID != holder && m.Roles.HasPermission(p)
		})
		if err != nil {
			return false, err
		}
		if len(others) == 0 {
			return false, nil
		}
	}
	return true, nil
}
