package broker

// Topic is a fixed category of realtime event.
type Topic string

const (
	TopicMessages       Topic = "messages"
	TopicAccounts       Topic = "accounts"
	TopicChats          Topic = "chats"
	TopicGroupChats     Topic = "group-chats"
	TopicTypingStatuses Topic = "typing-statuses"
	TopicOnlineStatuses Topic = "online-statuses"
)

var allTopics = []Topic{
	TopicMessages,
	TopicAccounts,
	TopicChats,
	TopicGroupChats,
	TopicTypingStatuses,
	TopicOnlineStatuses,
}

// Topics returns every known topic in a stable order.
func Topics() []Topic {
	out := make([]Topic, len(allTopics))
	copy(out, allTopics)
	return out
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	for _, k := range allTopics {
		if k == t {
			return true
		}
	}
	return false
}

func (t Topic) String() string { return string(t) }

// Event is a topic payload. EventType is the discriminant of the payload's
// tagged union and is written on the wire next to the payload fields.
type Event interface {
	EventType() string
}

// Notification is one unit of publish input.
// An empty RecipientID addresses the public (anonymous) scope.
type Notification struct {
	RecipientID string
	Event       Event
}

// PublicRecipient is the recipient identity of anonymous subscribers.
const PublicRecipient = ""

// To builds one notification per recipient, all carrying ev.
func To(ev Event, recipients ...string) []Notification {
	out := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, Notification{RecipientID: r, Event: ev})
	}
	return out
}
