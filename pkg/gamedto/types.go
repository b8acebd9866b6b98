package gamedto

// EventType is the "type" tag of every frame.
type EventType string

// Inbound frames.
const (
	GameJoin        EventType = "game.join"
	GameMove        EventType = "game.move"
	GameChat        EventType = "game.chat"
	GameEnd         EventType = "game.end"
	GameGet         EventType = "game.get"
	GameChatHistory EventType = "game.chat.history"
	ChatJoin        EventType = "chat.join"
	ChatMessage     EventType = "chat.message"
	ChatLeave       EventType = "chat.leave"
	ChatHistory     EventType = "chat.history"
)

// Outbound-only frames. game.move, game.chat, chat.message and the history types are
// used in both directions.
const (
	GameStart       EventType = "game.start"
	GameUsersList   EventType = "game.users.list"
	GameViewerJoin  EventType = "game.viewer.joined"
	GameEndSuccess  EventType = "game.end.success"
	GameGetSuccess  EventType = "game.get.success"
	ChatUserProfile EventType = "chat.userprofile"
	Error           EventType = "error"
)

// Inbound lists every type a client may send.
var Inbound = []EventType{
	GameJoin, GameMove, GameChat, GameEnd, GameGet, GameChatHistory,
	ChatJoin, ChatMessage, ChatLeave, ChatHistory,
}
