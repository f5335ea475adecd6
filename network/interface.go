// Package network abstracts the point to point sessions over which flows
// exchange proposals, signatures and finalized transactions.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/cmwaters/bnms/pkg/party"
)

var ErrSessionClosed = errors.New("session closed")

type (
	// Messenger opens sessions to counterparties and dispatches inbound
	// sessions to a single handler. Counterparties are addressed by party
	// name so that sessions survive a rotation of the party's key.
	Messenger interface {
		Open(ctx context.Context, to party.Party) (Session, error)
		Handle(Handler)
	}

	// Session is an ordered, bidirectional exchange of messages with one
	// counterparty. A session is used by a single protocol instance at a
	// time.
	Session interface {
		io.Closer
		// Counterparty is the transport level name of the remote side. The
		// libp2p transport resolves it from the authenticated peer id.
		Counterparty() string
		Send(context.Context, Message) error
		Receive(context.Context) (Message, error)
	}

	// Handler serves one inbound session. The session is closed once the
	// handler returns.
	Handler func(context.Context, Session)
)

// MessageType names the payload of a message.
type MessageType string

type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into a message of the given type.
func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	bz, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: bz}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Call sends a request on the session and waits for the reply.
func Call(ctx context.Context, s Session, req Message) (Message, error) {
	if err := s.Send(ctx, req); err != nil {
		return Message{}, err
	}
	return s.Receive(ctx)
}
