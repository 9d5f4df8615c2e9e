package controller

import (
	"github.com/sharetube/roomsync/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()

	mux.Use(c.wsRequestIdWSMw())
	mux.Use(c.loggerWSMw())
	mux.Use(c.rateLimitWSMw())
	mux.OnError(c.handleWSError)

	wsrouter.Handle(mux, "ALIVE", c.handleAlive)

	// player
	wsrouter.Handle(mux, "LOAD_VIDEO", c.handleLoadVideo)
	wsrouter.Handle(mux, "SET_PLAYING", c.handleSetPlaying)
	wsrouter.Handle(mux, "SEEK", c.handleSeek)
	wsrouter.Handle(mux, "TIME_UPDATE", c.handleTimeUpdate)

	// sync
	wsrouter.Handle(mux, "REQUEST_SYNC", c.handleRequestSync)
	wsrouter.Handle(mux, "FORCE_SYNC", c.handleForceSync)

	// profile
	wsrouter.Handle(mux, "RENAME", c.handleRename)
	wsrouter.Handle(mux, "UPDATE_AVATAR", c.handleUpdateAvatar)

	wsrouter.Handle(mux, "DISMISS_NOTIFICATION", c.handleDismissNotification)

	return mux
}
