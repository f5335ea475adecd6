package notary

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/network"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/tx"
)

const (
	commitRequest network.MessageType = "notary/commit"
	commitResult  network.MessageType = "notary/result"
)

type result struct {
	Kind         bnerrors.Kind `json:"kind,omitempty"`
	Message      string        `json:"message,omitempty"`
	Notarization *tx.Signature `json:"notarization,omitempty"`
}

// Service exposes a notary to remote nodes.
type Service struct {
	notary Notary
	logger zerolog.Logger
}

func NewService(n Notary, logger zerolog.Logger) *Service {
	return &Service{notary: n, logger: logger}
}

// Serve starts answering commit requests arriving on the messenger.
func (s *Service) Serve(m network.Messenger) {
	m.Handle(s.handle)
}

func (s *Service) handle(ctx context.Context, session network.Session) {
	msg, err := session.Receive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", session.Counterparty()).Msg("receiving commit request")
		return
	}
	var res result
	var stx tx.SignedTransaction
	switch {
	case msg.Type != commitRequest:
		res = result{Kind: bnerrors.KindRejected, Message: "unexpected message " + string(msg.Type)}
	case msg.Decode(&stx) != nil:
		res = result{Kind: bnerrors.KindValidation, Message: "malformed transaction"}
	default:
		sig, err := s.notary.Commit(ctx, stx)
		if err != nil {
			res = result{Kind: bnerrors.KindOf(err), Message: bnerrors.Reason(err)}
			if res.Kind == 0 {
				res = result{Kind: bnerrors.KindRejected, Message: err.Error()}
			}
			break
		}
		res.Notarization = &sig
	}
	reply, err := network.NewMessage(commitResult, res)
	if err == nil {
		err = session.Send(ctx, reply)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("peer", session.Counterparty()).Msg("replying to commit request")
	}
}

var _ Notary = (*Client)(nil)

// Client commits through a remote notary service. The notary party's key
// is the one its notarizations are checked against.
type Client struct {
	messenger network.Messenger
	notary    party.Party
}

func NewClient(m network.Messenger, notary party.Party) *Client {
	return &Client{messenger: m, notary: notary}
}

func (c *Client) Identity() peer.ID {
	return c.notary.ID
}

func (c *Client) Commit(ctx context.Context, stx tx.SignedTransaction) (tx.Signature, error) {
	session, err := c.messenger.Open(ctx, c.notary)
	if err != nil {
		return tx.Signature{}, err
	}
	defer session.Close()

	req, err := network.NewMessage(commitRequest, stx)
	if err != nil {
		return tx.Signature{}, err
	}
	reply, err := network.Call(ctx, session, req)
	if err != nil {
		return tx.Signature{}, err
	}
	if reply.Type != commitResult {
		return tx.Signature{}, errors.New("unexpected reply from notary: " + string(reply.Type))
	}
	var res result
	if err := reply.Decode(&res); err != nil {
		return tx.Signature{}, err
	}
	if res.Kind != 0 {
		return tx.Signature{}, &bnerrors.Error{Kind: res.Kind, Message: res.Message}
	}
	if res.Notarization == nil {
		return tx.Signature{}, tx.ErrNotNotarized
	}
	stx.Notarization = res.Notarization
	if err := stx.VerifyNotarization(c.notary.ID); err != nil {
		return tx.Signature{}, err
	}
	return *res.Notarization, nil
}
