package flow

import (
	"context"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/lock"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func groupNameKey(networkID, name string) string {
	return networkID + "/" + name
}

// groupLocks returns the advisory locks guarding the issuance of a group id
// and name.
func groupLocks(networkID string, id state.LinearID, name string) []lock.Request {
	var locks []lock.Request
	if id != (state.LinearID{}) {
		locks = append(locks, lock.Request{Kind: lock.CreateGroupID, Key: id.String()})
	}
	if name != "" {
		locks = append(locks, lock.Request{Kind: lock.GroupName, Key: groupNameKey(networkID, name)})
	}
	return locks
}

// CreateGroup issues a group of the network. The node is always a
// participant. A zero id is replaced by a random one.
func (e *Engine) CreateGroup(ctx context.Context, networkID string, id state.LinearID, name string, participants []party.Party) (g state.StateAndRef, err error) {
	defer e.observe(FlowCreateGroup, e.clock(), &err)
	if id == (state.LinearID{}) {
		id = state.NewLinearID()
	}
	release, err := e.locks.AcquireAll(groupLocks(networkID, id, name)...)
	if err != nil {
		return g, err
	}
	defer release()

	exists, err := e.query.GroupExists(ctx, id)
	if err != nil {
		return g, err
	}
	if exists {
		return g, bnerrors.DuplicateRequest("group %s already exists", id)
	}
	if name != "" {
		exists, err := e.query.GroupNameExists(ctx, networkID, name)
		if err != nil {
			return g, err
		}
		if exists {
			return g, bnerrors.DuplicateRequest("group %q already exists in %q", name, networkID)
		}
	}
	self := e.Party()
	participants = party.Dedup(append([]party.Party{self}, participants...))
	if err := e.checkMembers(ctx, networkID, participants); err != nil {
		return g, err
	}

	now := e.timestamp()
	output := state.WrapGroup(state.Group{
		LinearID:     id,
		NetworkID:    networkID,
		Name:         name,
		Participants: participants,
		Issuer:       self,
		Issued:       now,
		Modified:     now,
	})
	stx, err := e.run(ctx, transition{
		flow:      FlowCreateGroup,
		tag:       tx.CreateGroup,
		networkID: networkID,
		output:    &output,
		quorum:    []state.Permission{state.ModifyGroups},
	})
	if err != nil {
		return g, err
	}
	e.admitToGroup(ctx, networkID, nil, participants)
	return stx.Tx.OutputsAndRefs()[0], nil
}

// checkMembers fails unless every party holds a membership of the network.
func (e *Engine) checkMembers(ctx context.Context, networkID string, parties []party.Party) error {
	for _, p := range parties {
		member, err := e.query.IsMember(ctx, networkID, p.ID)
		if err != nil {
			return err
		}
		if !member {
			return bnerrors.NotFound("%s has no membership of %q", p, networkID)
		}
	}
	return nil
}

// checkParticipation fails if a member leaving a group would not belong to
// any other group of the network.
func (e *Engine) checkParticipation(ctx context.Context, networkID string, group state.LinearID, leaving []party.Party) error {
	if len(leaving) == 0 {
		return nil
	}
	groups, err := e.query.Groups(ctx, networkID)
	if err != nil {
		return err
	}
	for _, p := range leaving {
		member, err := e.query.IsMember(ctx, networkID, p.ID)
		if err != nil {
			return err
		}
		if !member {
			continue
		}
		found := false
		for _, g := range groups {
			if g.State.Group.LinearID != group && party.Contains(g.State.Group.Participants, p.ID) {
				found = true
				break
			}
		}
		if !found {
			return bnerrors.MissingGroupParticipation("%s would not belong to any group of %q", p, networkID)
		}
	}
	return nil
}

func (e *Engine) group(ctx context.Context, id state.LinearID) (state.StateAndRef, error) {
	g, err := e.query.Group(ctx, id)
	if err != nil {
		return state.StateAndRef{}, err
	}
	if g == nil {
		return state.StateAndRef{}, bnerrors.NotFound("group %s", id)
	}
	return *g, nil
}

// ModifyGroup renames a group or changes its participants. Parties joining
// the group and the parties already in it receive each other's memberships.
func (e *Engine) ModifyGroup(ctx context.Context, id state.LinearID, name string, participants []party.Party) (g state.StateAndRef, err error) {
	defer e.observe(FlowModifyGroup, e.clock(), &err)
	in, err := e.group(ctx, id)
	if err != nil {
		return g, err
	}
	stx, err := e.modifyGroup(ctx, in, name, participants)
	if err != nil {
		return g, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

func (e *Engine) modifyGroup(ctx context.Context, in state.StateAndRef, name string, participants []party.Party) (tx.SignedTransaction, error) {
	current := in.State.Group
	if name != current.Name && name != "" {
		release, err := e.locks.AcquireAll(groupLocks(current.NetworkID, state.LinearID{}, name)...)
		if err != nil {
			return tx.SignedTransaction{}, err
		}
		defer release()
		exists, err := e.query.GroupNameExists(ctx, current.NetworkID, name)
		if err != nil {
			return tx.SignedTransaction{}, err
		}
		if exists {
			return tx.SignedTransaction{}, bnerrors.DuplicateRequest("group %q already exists in %q", name, current.NetworkID)
		}
	}
	participants = party.Dedup(participants)
	leaving := removed(current.Participants, participants)
	joining := removed(participants, current.Participants)
	if err := e.checkParticipation(ctx, current.NetworkID, current.LinearID, leaving); err != nil {
		return tx.SignedTransaction{}, err
	}
	if err := e.checkMembers(ctx, current.NetworkID, joining); err != nil {
		return tx.SignedTransaction{}, err
	}

	out := current.Update(e.timestamp(current.Modified))
	out.Name = name
	out.Participants = participants
	output := state.WrapGroup(out)
	stx, err := e.run(ctx, transition{
		flow:      FlowModifyGroup,
		tag:       tx.ModifyGroup,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyGroups},
		observers: leaving,
	})
	if err != nil {
		return stx, err
	}
	staying := removed(participants, joining)
	e.admitToGroup(ctx, current.NetworkID, staying, joining)
	return stx, nil
}

// DeleteGroup consumes a group. It is refused while a member would be left
// outside of every group.
func (e *Engine) DeleteGroup(ctx context.Context, id state.LinearID) (err error) {
	defer e.observe(FlowDeleteGroup, e.clock(), &err)
	in, err := e.group(ctx, id)
	if err != nil {
		return err
	}
	current := in.State.Group
	if err := e.checkParticipation(ctx, current.NetworkID, current.LinearID, current.Participants); err != nil {
		return err
	}
	_, err = e.run(ctx, transition{
		flow:      FlowDeleteGroup,
		tag:       tx.ExitGroup,
		networkID: current.NetworkID,
		input:     &in,
		quorum:    []state.Permission{state.ModifyGroups},
	})
	return err
}
