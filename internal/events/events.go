// Package events defines the names pushed to clients and the fan-out
// contract the engines emit through. Delivery is best-effort: events go to
// whichever rooms are populated at emit time, strictly after the mutation
// that caused them has committed.
package events

// Server-pushed event names.
const (
	RequestReceive = "request:receive"
	RequestAccept  = "request:accept"
	RequestDecline = "request:decline"

	ChatJoin              = "chat:join"
	ChatSendMessage       = "chat:sendMessage"
	ChatAddAdmin          = "chat:addAdmin"
	ChatRemoveAdmin       = "chat:removeAdmin"
	ChatRemoveMember      = "chat:removeMember"
	ChatChangeName        = "chat:changeName"
	ChatChangePhoto       = "chat:changePhoto"
	ChatChangeDescription = "chat:changeDescription"
	ChatTransferOwnership = "chat:transferOwnership"
	ChatLeave             = "chat:leave"
	ChatDelete            = "chat:delete"

	UserRemoveFriend = "user:removeFriend"
	UserDelete       = "user:delete"
	UserOnline       = "user:online"
	UserOffline      = "user:offline"
)

// Fanout delivers events to rooms and manages live room membership. There
// is one room per user id and one per chat id. Implementations must be safe
// for concurrent use.
type Fanout interface {
	// ToRoom sends the event to every connection currently in the room.
	ToRoom(room, name string, data any)

	// ToAll sends the event to every connected client.
	ToAll(name string, data any)

	// JoinRoom adds the user's live connections (if any) to the room.
	JoinRoom(userID, room string)

	// LeaveRoom removes the user's live connections from the room.
	LeaveRoom(userID, room string)

	// CloseRoom evicts every connection from the room.
	CloseRoom(room string)

	// Disconnect force-closes all live connections of the user.
	Disconnect(userID string)
}
