package p2p

import (
	"context"
	"testing"
	"time"

	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/network"
	"github.com/cmwaters/bnms/pkg/party"
)

type echo struct {
	Text string `json:"text"`
}

func TestP2PSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(t, 2)
	n0, n1 := nets[0], nets[1]

	n1.Handle(func(ctx context.Context, s network.Session) {
		for {
			msg, err := s.Receive(ctx)
			if err != nil {
				return
			}
			if err := s.Send(ctx, msg); err != nil {
				return
			}
		}
	})

	// n1 is reached through its host id since it has no address book entry
	s, err := n0.Open(ctx, party.Party{Name: "n1", ID: n1.host.ID()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, text := range []string{"hello", "world"} {
		req, err := network.NewMessage("echo", echo{Text: text})
		require.NoError(t, err)
		resp, err := network.Call(ctx, s, req)
		require.NoError(t, err)

		var out echo
		require.NoError(t, resp.Decode(&out))
		assert.Equal(t, text, out.Text)
	}
}

func TestP2PAddressBook(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(t, 2)
	n0, n1 := nets[0], nets[1]

	received := make(chan string, 1)
	n1.Handle(func(ctx context.Context, s network.Session) {
		msg, err := s.Receive(ctx)
		if err != nil {
			return
		}
		var e echo
		if err := msg.Decode(&e); err == nil {
			received <- e.Text
		}
	})

	// the party's key is unrelated to the host it runs on
	n0.AddPeer("bob", n1.host.Peerstore().PeerInfo(n1.host.ID()))
	s, err := n0.Open(ctx, party.Party{Name: "bob", ID: n0.host.ID()})
	require.NoError(t, err)
	require.Equal(t, "bob", s.Counterparty())

	msg, err := network.NewMessage("echo", echo{Text: "routed"})
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, msg))

	select {
	case text := <-received:
		require.Equal(t, "routed", text)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func setupP2PNetworks(t *testing.T, n int) []*Network {
	mn, err := mocknet.FullMeshLinked(n)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mn.Close() })

	nets := make([]*Network, n)
	for i := range nets {
		nets[i] = NewNetwork(mn.Hosts()[i], FlowProtocol)
	}

	err = mn.ConnectAllButSelf()
	require.NoError(t, err)
	return nets
}
