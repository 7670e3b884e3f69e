// Package relay provides the channel-based fanout fabric. Any server
// process publishes a payload to a named channel; every subscribed
// process delivers it to its local sockets. Delivery is at-least-once:
// the client's idempotency-key dedup is the correctness backstop.
package relay

// Handler receives a published payload. Handlers must not block; slow
// consumers are the subscriber's problem, not the relay's.
type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

type Relay interface {
	Publish(channel string, payload []byte) error
	Subscribe(channel string, handler Handler) (Subscription, error)
	Close()
}

// Channel naming scheme shared by router and sessions.

func ConversationMessages(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

func ConversationTypings(conversationID string) string {
	return "conversation:" + conversationID + ":typings"
}

func UserMessages(userID string) string {
	return "user:" + userID + ":messages"
}
