package twitch

// Event is the tagged sum of everything the ingestion layer can emit.
// Dispatch with a type switch; other platform event kinds are logged and
// dropped before they reach this type.
type Event interface {
	isEvent()
}

// ChatMessage is one chat line as received from either event source.
// Immutable once constructed; produced only by ingestion.
type ChatMessage struct {
	AuthorLogin   string
	AuthorDisplay string
	AuthorID      string
	ChannelLogin  string
	ChannelID     string
	Text          string

	IsBroadcaster bool
	IsModerator   bool
	IsVIP         bool
	IsSubscriber  bool
}

func (ChatMessage) isEvent() {}

// DisplayOrLogin returns the display name, falling back to the login.
func (m ChatMessage) DisplayOrLogin() string {
	if m.AuthorDisplay != "" {
		return m.AuthorDisplay
	}
	return m.AuthorLogin
}

// IsPrivileged reports whether the author may answer approval requests.
func (m ChatMessage) IsPrivileged() bool {
	return m.IsBroadcaster || m.IsModerator
}

// RaidEvent is an incoming raid on the broadcaster's channel.
type RaidEvent struct {
	RaiderLogin string
	RaiderID    string
	ViewerCount int
}

func (RaidEvent) isEvent() {}
