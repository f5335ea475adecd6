package query

import (
	"context"

	"github.com/cmwaters/bnms/state"
)

func (s *Service) groups(ctx context.Context, networkID string, filter func(state.Group) bool) ([]state.StateAndRef, error) {
	return s.vault.List(ctx, state.KindGroup, func(sr state.StateAndRef) bool {
		g := sr.State.Group
		return g != nil && g.NetworkID == networkID && (filter == nil || filter(*g))
	})
}

// GroupExists reports whether a live group with the id is held locally.
func (s *Service) GroupExists(ctx context.Context, id state.LinearID) (bool, error) {
	g, err := s.vault.Get(ctx, state.KindGroup, id)
	return g != nil, err
}

// GroupNameExists reports whether a live group of the network has the name.
func (s *Service) GroupNameExists(ctx context.Context, networkID, name string) (bool, error) {
	found, err := s.groups(ctx, networkID, func(g state.Group) bool { return g.Name == name })
	return len(found) > 0, err
}

func (s *Service) Group(ctx context.Context, id state.LinearID) (*state.StateAndRef, error) {
	g, err := s.vault.Get(ctx, state.KindGroup, id)
	if err != nil || g == nil {
		return nil, err
	}
	if err := s.authorize(ctx, g.State.Group.NetworkID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) GroupByName(ctx context.Context, networkID, name string) (*state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	found, err := s.groups(ctx, networkID, func(g state.Group) bool { return g.Name == name })
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (s *Service) Groups(ctx context.Context, networkID string) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.groups(ctx, networkID, nil)
}

// ChangeRequest returns a change request by linear id, or nil.
func (s *Service) ChangeRequest(ctx context.Context, id state.LinearID) (*state.StateAndRef, error) {
	r, err := s.vault.Get(ctx, state.KindChangeRequest, id)
	if err != nil || r == nil {
		return nil, err
	}
	if err := s.authorize(ctx, r.State.ChangeRequest.NetworkID); err != nil {
		return nil, err
	}
	return r, nil
}

// ChangeRequests returns the change requests of the network in any of the
// statuses, or all of them if none are given.
func (s *Service) ChangeRequests(ctx context.Context, networkID string, statuses ...state.RequestStatus) ([]state.StateAndRef, error) {
	if err := s.authorize(ctx, networkID); err != nil {
		return nil, err
	}
	return s.vault.List(ctx, state.KindChangeRequest, func(sr state.StateAndRef) bool {
		r := sr.State.ChangeRequest
		if r == nil || r.NetworkID != networkID {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if r.Status == st {
				return true
			}
		}
		return false
	})
}
