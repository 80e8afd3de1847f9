package conversation

import (
	"time"
)

// Interaction is a single question/answer exchange within a conversation.
//
// It is created open (ClosedAt nil) at the start of a turn and closed exactly
// once at the end of it. While open, handlers append text alterations to the
// input and output lists; the lists are append-only and their order is the
// order in which the alterations were made.
type Interaction struct {
	ID       InteractionID `json:"id" bson:"id"`
	OpenedAt time.Time     `json:"openedAt" bson:"openedAt"`

	InputText        string           `json:"inputText" bson:"inputText"`
	InputAudio       AudioRef         `json:"inputAudio,omitempty" bson:"inputAudio,omitempty"`
	InputAlterations []TextAlteration `json:"inputAlterations" bson:"inputAlterations"`

	OutputText        string           `json:"outputText,omitempty" bson:"outputText,omitempty"`
	OutputAudio       AudioRef         `json:"outputAudio,omitempty" bson:"outputAudio,omitempty"`
	OutputAlterations []TextAlteration `json:"outputAlterations" bson:"outputAlterations"`

	// RespondingAuthorID names the handler credited with the interaction's
	// primary response. Last responding alteration wins.
	RespondingAuthorID string `json:"respondingAuthorID,omitempty" bson:"respondingAuthorID,omitempty"`

	ClosedAt *time.Time `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
}

// NewInteraction creates an open interaction seeded from the client's input
// text, with the seed recorded as an unattributed input alteration.
func NewInteraction(inputText string, at time.Time) *Interaction {
	i := &Interaction{
		ID:        NewInteractionID(),
		OpenedAt:  at,
		InputText: inputText,
	}
	i.AddInputAlteration(inputText, "")
	return i
}

func (i *Interaction) AddInputAlteration(text string, authorID string) {
	i.InputAlterations = append(i.InputAlterations, TextAlteration{Text: text, AuthorID: authorID})
}

// AddOutputAlteration appends an output alteration. When responding is true
// the alteration's author becomes the interaction's responding author,
// overwriting any earlier claim. Handlers that merely rewrite another
// handler's response pass responding=false.
func (i *Interaction) AddOutputAlteration(text string, authorID string, responding bool) {
	i.OutputAlterations = append(i.OutputAlterations, TextAlteration{Text: text, AuthorID: authorID})
	if responding {
		i.RespondingAuthorID = authorID
	}
}

// Close fixes the interaction's output fields and close timestamp. Closing is
// not guarded: calling it again re-stamps the fields, which is a caller error.
func (i *Interaction) Close(outputText string, outputAudio AudioRef, at time.Time) {
	i.OutputText = outputText
	i.OutputAudio = outputAudio
	closedAt := at
	i.ClosedAt = &closedAt
}

func (i *Interaction) IsClosed() bool {
	return i.ClosedAt != nil
}

func (i *Interaction) clone() *Interaction {
	out := *i
	out.InputAlterations = append([]TextAlteration(nil), i.InputAlterations...)
	out.OutputAlterations = append([]TextAlteration(nil), i.OutputAlterations...)
	if i.ClosedAt != nil {
		closedAt := *i.ClosedAt
		out.ClosedAt = &closedAt
	}
	return &out
}
