package protocol

// WebSocket event names pushed from server to operator clients.
const (
	EventQR               = "qr"
	EventReady            = "ready"
	EventNotReady         = "not-ready"
	EventChats            = "chats"
	EventRelevantMessages = "relevant-messages"
	EventRepliedMessages  = "replied-messages"
	EventChatHistory      = "chat-history"
	EventNewMessage       = "new-message"
	EventLoggedOut        = "logged-out"
	EventError            = "error"
)

// Operator commands received over the WebSocket.
const (
	CmdStartSession   = "start-session"
	CmdRestoreSession = "restore-session"
	CmdGetRelevant    = "get-relevant-messages"
	CmdGetReplied     = "get-replied-messages"
	CmdQuickReply     = "quick-reply"
	CmdMarkReplied    = "mark-as-replied"
	CmdLoadChat       = "load-chat"
	CmdLogout         = "logout"
)
