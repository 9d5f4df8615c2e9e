package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sharetube/roomsync/internal/service/session"
	"github.com/sharetube/roomsync/pkg/ctxlogger"
	"github.com/sharetube/roomsync/pkg/validator"
	"golang.org/x/time/rate"
)

type inputError struct {
	errors []validator.ValidationError
}

func (e *inputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.errors[0].Message)
}

func (c controller) validateInput(input any) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return &inputError{errors: validationErrors}
	}

	return nil
}

type joinRoomQuery struct {
	RoomID   string `json:"room_id" validate:"required,max=64"`
	Username string `json:"username" validate:"max=32"`
	Avatar   string `json:"avatar" validate:"max=64"`
}

type errorOutput struct {
	Message string                      `json:"message"`
	Errors  []validator.ValidationError `json:"errors,omitempty"`
}

func (c controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	query := joinRoomQuery{
		RoomID:   chi.URLParam(r, "room-id"),
		Username: r.URL.Query().Get("username"),
		Avatar:   r.URL.Query().Get("avatar"),
	}
	if validationErrors, ok := c.validate.Validate(query); !ok {
		c.logger.InfoContext(r.Context(), "invalid join query", "errors", validationErrors)
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": validationErrors})
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.InfoContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	writer := &connWriter{conn: conn, timeout: c.cfg.WriteTimeout}
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("room_id", query.RoomID))

	sess, err := c.sessionService.Open(ctx, &session.OpenParams{
		RoomID:      query.RoomID,
		DisplayName: query.Username,
		AvatarToken: query.Avatar,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to open session", "error", err)
		writer.write(&Output{Type: "ERROR", Payload: errorOutput{Message: err.Error()}})
		return
	}
	defer sess.Close()

	if err := c.connRepo.Add(conn, sess.Self().UserID); err != nil {
		c.logger.WarnContext(ctx, "failed to track connection", "error", err)
	}
	defer c.connRepo.Remove(conn)

	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", sess.Self().UserID))
	ctx = context.WithValue(ctx, sessionCtxKey, sess)
	ctx = context.WithValue(ctx, writerCtxKey, writer)
	if c.cfg.RateLimit > 0 {
		ctx = context.WithValue(ctx, limiterCtxKey, rate.NewLimiter(c.cfg.RateLimit, c.cfg.RateBurst))
	}

	if err := writer.write(&Output{Type: "JOINED_ROOM", Payload: sess.State()}); err != nil {
		c.logger.InfoContext(ctx, "failed to write joined room", "error", err)
		return
	}

	go c.pushUpdates(ctx, sess, writer)

	if err := c.wsRouter.ServeConn(ctx, conn); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	}
}

// pushUpdates sends the room state after every change until the session ends.
// A session that fails on its own closes the connection, which stops ServeConn.
func (c controller) pushUpdates(ctx context.Context, sess *session.Session, writer *connWriter) {
	for {
		select {
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				c.logger.WarnContext(ctx, "session failed", "error", err)
				writer.write(&Output{Type: "ERROR", Payload: errorOutput{Message: err.Error()}})
				writer.conn.Close()
			}
			return
		case <-sess.Updates():
			if err := writer.write(&Output{Type: "ROOM_STATE", Payload: sess.State()}); err != nil {
				c.logger.InfoContext(ctx, "failed to write room state", "error", err)
			}
		}
	}
}

func (c controller) handleWSError(ctx context.Context, _ *websocket.Conn, err error) {
	c.logger.InfoContext(ctx, "websocket message failed", "error", err)

	out := errorOutput{Message: err.Error()}
	var inputErr *inputError
	if errors.As(err, &inputErr) {
		out.Errors = inputErr.errors
	}

	if writer := c.getWriterFromCtx(ctx); writer != nil {
		writer.write(&Output{Type: "ERROR", Payload: out})
	}
}

type EmptyInput struct{}

func (c controller) handleAlive(_ context.Context, _ *websocket.Conn, _ EmptyInput) error {
	return nil
}

type LoadVideoInput struct {
	// VideoURL is any source descriptor the players understand, not only a URL.
	VideoURL string `json:"video_url" validate:"required,max=2048"`
}

func (c controller) handleLoadVideo(ctx context.Context, _ *websocket.Conn, input LoadVideoInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).LoadVideo(ctx, input.VideoURL)
}

type SetPlayingInput struct {
	IsPlaying *bool `json:"is_playing" validate:"required"`
}

func (c controller) handleSetPlaying(ctx context.Context, _ *websocket.Conn, input SetPlayingInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).SetPlaying(ctx, *input.IsPlaying)
}

type PositionInput struct {
	Position *float64 `json:"position" validate:"required,gte=0"`
}

func (c controller) handleSeek(ctx context.Context, _ *websocket.Conn, input PositionInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).Seek(ctx, *input.Position)
}

func (c controller) handleTimeUpdate(ctx context.Context, _ *websocket.Conn, input PositionInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).ReportPosition(*input.Position)
}

func (c controller) handleRequestSync(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	return c.getSessionFromCtx(ctx).RequestSync(ctx)
}

func (c controller) handleForceSync(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	return c.getSessionFromCtx(ctx).ForceSync(ctx)
}

type RenameInput struct {
	Username string `json:"username" validate:"required,max=32"`
}

func (c controller) handleRename(ctx context.Context, _ *websocket.Conn, input RenameInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).Rename(ctx, input.Username)
}

type UpdateAvatarInput struct {
	Avatar string `json:"avatar" validate:"required,max=64"`
}

func (c controller) handleUpdateAvatar(ctx context.Context, _ *websocket.Conn, input UpdateAvatarInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	return c.getSessionFromCtx(ctx).UpdateAvatar(ctx, input.Avatar)
}

type DismissNotificationInput struct {
	ID string `json:"id" validate:"required"`
}

func (c controller) handleDismissNotification(ctx context.Context, _ *websocket.Conn, input DismissNotificationInput) error {
	if err := c.validateInput(input); err != nil {
		return err
	}

	c.getSessionFromCtx(ctx).DismissNotification(input.ID)
	return nil
}
