package events

// Topics fired by the lifecycle manager. Handlers subscribe to these through
// a trigger.Registry; the forwarder mirrors them onto watermill for
// out-of-process consumers.
const (
	// Host-driven turn lifecycle. The host fires these three in order for
	// every client turn; the lifecycle manager is registered on all of them.
	TopicPreTurn  = "turn.pre"
	TopicTurn     = "turn.run"
	TopicPostTurn = "turn.post"

	// Text mutation hooks fired by the host when a handler rewrites the
	// turn's input or output text.
	TopicInputAltered  = "turn.input-altered"
	TopicOutputAltered = "turn.output-altered"

	// Fired by the manager around conversation creation and closing.
	TopicPreNewConversation    = "conversation.pre-new"
	TopicPostNewConversation   = "conversation.post-new"
	TopicPreCloseConversation  = "conversation.pre-close"
	TopicPostCloseConversation = "conversation.post-close"

	// Fired by the manager around interaction creation and closing.
	TopicPreCreateInteraction  = "interaction.pre-create"
	TopicPostCreateInteraction = "interaction.post-create"
	TopicPreCloseInteraction   = "interaction.pre-close"
	TopicPostCloseInteraction  = "interaction.post-close"

	// Fired first during the turn phase so the previous interaction's
	// responder gets first refusal on the follow-up.
	TopicFollowUp = "conversation.follow-up"
)

// Payload field keys shared between the manager and its handlers.
const (
	// KeyTurn holds the in-flight *lifecycle.Turn. It is in-process only and
	// stripped before forwarding to watermill.
	KeyTurn = "turn"

	KeyText             = "text"
	KeyAuthorID         = "authorID"
	KeyResponding       = "responding"
	KeyConversationID   = "conversationID"
	KeyInteractionID    = "interactionID"
	KeyFollowUpAuthorID = "followUpAuthorID"
)

// The manager's handler on TopicTurn runs at this priority so follow-up
// dispatch happens before any general-purpose turn handler.
const TurnHandlerPriority = 100

// AllTopics lists every lifecycle topic, in no particular order. Useful for
// attaching a forwarder or recorder to the whole surface at once.
func AllTopics() []string {
	return []string{
		TopicPreTurn,
		TopicTurn,
		TopicPostTurn,
		TopicInputAltered,
		TopicOutputAltered,
		TopicPreNewConversation,
		TopicPostNewConversation,
		TopicPreCloseConversation,
		TopicPostCloseConversation,
		TopicPreCreateInteraction,
		TopicPostCreateInteraction,
		TopicPreCloseInteraction,
		TopicPostCloseInteraction,
		TopicFollowUp,
	}
}
