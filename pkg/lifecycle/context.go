package lifecycle

import (
	"github.com/go-go-golems/parley/pkg/conversation"
)

// TurnContext is the host-supplied view of one client turn: the input the
// client sent and the output the handlers have produced so far.
type TurnContext interface {
	GetInputText() string
	GetOutputText() string
	GetOutputAudio() []byte
	GetOutputAudioContentType() string
}

// Turn carries a TurnContext through one pre-turn/turn/post-turn cycle,
// together with the state the manager attaches to it: the conversation
// being worked on and the follow-up candidate.
//
// FollowUpAuthorID is transient. It is valid only for the duration of the
// turn and is never persisted with the conversation.
type Turn struct {
	Context          TurnContext
	Conversation     *conversation.Conversation
	FollowUpAuthorID string
}

func NewTurn(tc TurnContext) *Turn {
	return &Turn{Context: tc}
}

// BasicContext is a plain TurnContext for hosts that accumulate output text
// in memory, and for tests.
type BasicContext struct {
	inputText       string
	outputText      string
	outputAudio     []byte
	outputAudioType string
}

var _ TurnContext = (*BasicContext)(nil)

func NewBasicContext(inputText string) *BasicContext {
	return &BasicContext{inputText: inputText}
}

func (c *BasicContext) GetInputText() string {
	return c.inputText
}

func (c *BasicContext) GetOutputText() string {
	return c.outputText
}

func (c *BasicContext) SetOutputText(text string) {
	c.outputText = text
}

func (c *BasicContext) GetOutputAudio() []byte {
	return c.outputAudio
}

func (c *BasicContext) GetOutputAudioContentType() string {
	return c.outputAudioType
}

func (c *BasicContext) SetOutputAudio(data []byte, contentType string) {
	c.outputAudio = data
	c.outputAudioType = contentType
}
