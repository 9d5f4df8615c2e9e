package app

import (
	"context"

	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/internal/repository/room"
)

type sessionStore interface {
	GetRoom(context.Context, string) (room.Room, error)
	CreateRoom(context.Context, *room.CreateRoomParams) (room.Room, error)
	UpdateRoom(context.Context, *room.UpdateRoomParams) (int64, error)
	SubscribeRoom(context.Context, string) (<-chan room.Room, error)
	AddMember(context.Context, *room.SetMemberParams) error
	UpdateMember(context.Context, *room.UpdateMemberParams) error
	RemoveMember(context.Context, *room.RemoveMemberParams) error
	GetMembers(context.Context, string) ([]room.Member, error)
	SubscribeMembers(context.Context, string) (<-chan room.MemberEvent, error)
	KeepAlive(context.Context, *room.KeepAliveParams) error
}

type sessionBus interface {
	Publish(context.Context, string, action.Action) error
	Subscribe(context.Context, string) (<-chan action.Action, error)
}
