package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var ErrUnknownMessageType = errors.New("unknown message type")

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error

type ErrorHandlerFunc func(ctx context.Context, conn *websocket.Conn, err error)

// Middleware runs before every routed message. Returning an error skips the handler.
type Middleware func(ctx context.Context, conn *websocket.Conn) (context.Context, error)

type WSRouter struct {
	routes      map[string]HandlerFunc
	middlewares []Middleware
	onError     ErrorHandlerFunc
}

func New() *WSRouter {
	return &WSRouter{
		routes:  make(map[string]HandlerFunc),
		onError: func(context.Context, *websocket.Conn, error) {},
	}
}

func (r *WSRouter) HandleRaw(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

func (r *WSRouter) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *WSRouter) OnError(fn ErrorHandlerFunc) {
	r.onError = fn
}

// Handle registers a handler whose payload is decoded into T.
func Handle[T any](r *WSRouter, messageType string, handler func(ctx context.Context, conn *websocket.Conn, input T) error) {
	r.HandleRaw(messageType, func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("failed to decode %s payload: %w", messageType, err)
			}
		}

		return handler(ctx, conn, input)
	})
}

// ServeConn reads messages until the connection fails and dispatches them by type.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		msgCtx := context.WithValue(ctx, messageTypeKey, msg.Type)
		if err := r.dispatch(msgCtx, conn, &msg); err != nil {
			r.onError(msgCtx, conn, err)
		}
	}
}

func (r *WSRouter) dispatch(ctx context.Context, conn *websocket.Conn, msg *message) error {
	handler, exists := r.routes[msg.Type]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}

	for _, mw := range r.middlewares {
		var err error
		if ctx, err = mw(ctx, conn); err != nil {
			return err
		}
	}

	return handler(ctx, conn, msg.Payload)
}
