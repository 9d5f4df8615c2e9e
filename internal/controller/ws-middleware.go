package controller

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/sharetube/roomsync/pkg/ctxlogger"
	"github.com/sharetube/roomsync/pkg/wsrouter"
)

var ErrRateLimited = errors.New("too many messages")

func (c controller) wsRequestIdWSMw() wsrouter.Middleware {
	return func(ctx context.Context, _ *websocket.Conn) (context.Context, error) {
		return ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId())), nil
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware {
	return func(ctx context.Context, _ *websocket.Conn) (context.Context, error) {
		ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
		c.logger.DebugContext(ctx, "websocket message received")
		return ctx, nil
	}
}

func (c controller) rateLimitWSMw() wsrouter.Middleware {
	return func(ctx context.Context, _ *websocket.Conn) (context.Context, error) {
		if limiter := c.getLimiterFromCtx(ctx); limiter != nil && !limiter.Allow() {
			return ctx, ErrRateLimited
		}
		return ctx, nil
	}
}
