package controller

import (
	"context"

	"github.com/sharetube/roomsync/internal/service/session"
	"golang.org/x/time/rate"
)

type contextKey int

const (
	sessionCtxKey contextKey = iota
	writerCtxKey
	limiterCtxKey
)

func (c controller) getSessionFromCtx(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionCtxKey).(*session.Session)
	return sess
}

func (c controller) getWriterFromCtx(ctx context.Context) *connWriter {
	w, _ := ctx.Value(writerCtxKey).(*connWriter)
	return w
}

func (c controller) getLimiterFromCtx(ctx context.Context) *rate.Limiter {
	l, _ := ctx.Value(limiterCtxKey).(*rate.Limiter)
	return l
}
