package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"mutuals/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
}

type relayBus interface {
	Join(userID string) *Subscription
	Leave(sub *Subscription)
	Publish(userID string, envelope models.Envelope)
}

// Connection is one live session. It owns a single websocket, registers the
// user with the relay bus and shuttles envelopes in both directions until the
// transport fails or the context is cancelled.
type Connection struct {
	ws         wsConnection
	bus        relayBus
	user       models.User
	sub        *Subscription
	fromClient chan models.Envelope
	errorCh    chan error
	log        *slog.Logger
}

// NewConnection registers the user on the bus and wraps the socket. The bus
// registration is the last step of the join sequence; callers must have
// finished authentication and profile setup before constructing a Connection.
func NewConnection(
	bus relayBus,
	ws wsConnection,
	user models.User,
	log *slog.Logger,
) *Connection {
	return &Connection{
		ws:         ws,
		bus:        bus,
		user:       user,
		sub:        bus.Join(user.ID),
		fromClient: make(chan models.Envelope),
		errorCh:    make(chan error, 2),
		log:        log,
	}
}

// Handle serves the connection until the socket closes, the context is
// cancelled or a write fails. The bus registration is removed on every exit
// path.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.bus.Leave(c.sub)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEnvelopes(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
		// A goroutine error cancels the context too; prefer the error that
		// caused the cancellation over the cancellation itself.
		select {
		case err = <-c.errorCh:
		default:
		}
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// pumpEnvelopes reads frames off the socket and forwards decoded envelopes to
// the main loop. A frame that is not a valid envelope is logged and skipped;
// only transport errors end the session.
func (c *Connection) pumpEnvelopes(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var envelope models.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.log.Warn("dropping malformed envelope", "user_id", c.user.ID, "error", err)
			continue
		}

		select {
		case c.fromClient <- envelope:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case envelope := <-c.fromClient:
			c.processClientEnvelope(envelope)
		case envelope, ok := <-c.sub.Envelopes():
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(envelope); err != nil {
				c.log.Error("failed to write envelope", "user_id", c.user.ID, "error", err)
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientEnvelope republishes an inbound envelope with the sender
// stamped from the session identity. Whatever sender the client claimed is
// discarded. Without an explicit target the envelope goes to the sender's own
// group, reaching all of their devices. An unknown envelope type is dropped
// and the session keeps serving.
func (c *Connection) processClientEnvelope(envelope models.Envelope) {
	out := models.Envelope{
		Type:   envelope.Type,
		Sender: c.user.UserName,
	}

	switch envelope.Type {
	case models.EnvelopeChatMessage:
		out.Message = envelope.Message
	case models.EnvelopeChatRequest:
	case models.EnvelopeRequestResponse:
		out.Response = envelope.Response
	default:
		c.log.Warn("dropping envelope with unknown type", "user_id", c.user.ID, "type", envelope.Type)
		return
	}

	target := envelope.To
	if target == "" {
		target = c.user.ID
	}
	c.bus.Publish(target, out)
}
