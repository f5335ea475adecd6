package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/flow"
	"github.com/cmwaters/bnms/network"
	"github.com/cmwaters/bnms/notary"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/vault"
)

const testNetwork = "MyBusinessNetwork"

type cluster struct {
	t      *testing.T
	net    *network.LocalNetwork
	notary *notary.Memory
}

func newCluster(t *testing.T) *cluster {
	return &cluster{t: t, net: network.NewLocalNetwork(), notary: notary.NewMemory(sign.NewTestSigner("notary"))}
}

type node struct {
	*flow.Engine
	signer *sign.TestSigner
}

func (c *cluster) node(name string) *node {
	signer := sign.NewTestSigner(name)
	v, err := vault.NewInMemory()
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = v.Close() })
	e := flow.New(signer, v, c.notary, c.net.Join(name))
	e.Start()
	return &node{Engine: e, signer: signer}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// bootstrap creates the test network with n as administrator.
func bootstrap(t *testing.T, ctx context.Context, n *node) state.StateAndRef {
	m, _, err := n.CreateNetwork(ctx, testNetwork, "founders", state.BusinessIdentity{"lei": "ADMIN"})
	require.NoError(t, err)
	return m
}

// onboard admits p as an active member without roles.
func onboard(t *testing.T, ctx context.Context, admin, p *node) state.StateAndRef {
	m, err := admin.OnboardMembership(ctx, testNetwork, p.Party(), nil)
	require.NoError(t, err)
	return m
}

// promote onboards p and grants it the admin role.
func promote(t *testing.T, ctx context.Context, admin, p *node) state.StateAndRef {
	m := onboard(t, ctx, admin, p)
	m, err := admin.ModifyRoles(ctx, m.State.Membership.LinearID, state.Roles{state.AdminRole()})
	require.NoError(t, err)
	return m
}

func self(t *testing.T, ctx context.Context, n *node) state.Membership {
	m, err := n.Query().Self(ctx, testNetwork)
	require.NoError(t, err)
	require.NotNil(t, m)
	return *m.State.Membership
}

func membershipOf(t *testing.T, ctx context.Context, viewer, holder *node) *state.Membership {
	m, err := viewer.Query().Membership(ctx, testNetwork, holder.Party().ID)
	require.NoError(t, err)
	if m == nil {
		return nil
	}
	return m.State.Membership
}

func parties(nodes ...*node) []party.Party {
	out := make([]party.Party, len(nodes))
	for i, n := range nodes {
		out[i] = n.Party()
	}
	return out
}
