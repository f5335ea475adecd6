package flow

import (
	"context"

	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
)

// shareAdmins gives a newly admitted member the memberships of everyone
// authorised to modify its membership.
func (e *Engine) shareAdmins(ctx context.Context, networkID string, to party.Party) {
	_, authorised, err := e.authorisedParties(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing authorised members")
		return
	}
	e.push(ctx, to, authorised)
}

// promote brings a member that has just become an administrator up to date
// with the whole network: it receives every membership and group, and is
// added as participant to the memberships it does not hold yet.
func (e *Engine) promote(ctx context.Context, networkID string, admin party.Party) {
	memberships, err := e.query.Memberships(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing memberships")
		return
	}
	groups, err := e.query.Groups(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing groups")
		return
	}
	e.push(ctx, admin, append(append([]state.StateAndRef(nil), memberships...), groups...))

	for _, m := range memberships {
		participants := m.State.Membership.Participants
		if party.Contains(participants, admin.ID) {
			continue
		}
		if _, err := e.modifyParticipants(ctx, m, append(append([]party.Party(nil), participants...), admin), nil); err != nil {
			e.logger.Info().Err(err).
				Stringer("membership", m.State.Membership.LinearID).
				Str("party", admin.String()).
				Msg("adding administrator as participant")
		}
	}
}

// admitToGroup exchanges memberships between the parties joining a group
// and those already in it, so that both sides can see each other.
func (e *Engine) admitToGroup(ctx context.Context, networkID string, existing, joined []party.Party) {
	if len(joined) == 0 {
		return
	}
	memberships, err := e.query.Memberships(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing memberships")
		return
	}
	held := func(ps []party.Party) []state.StateAndRef {
		var out []state.StateAndRef
		for _, m := range memberships {
			if party.Contains(ps, m.State.Membership.Holder().ID) {
				out = append(out, m)
			}
		}
		return out
	}
	everyone := party.Dedup(append(append([]party.Party(nil), existing...), joined...))
	for _, p := range joined {
		e.push(ctx, p, held(everyone))
	}
	newcomers := held(joined)
	for _, p := range existing {
		if party.Contains(joined, p.ID) {
			continue
		}
		e.push(ctx, p, newcomers)
	}
}
