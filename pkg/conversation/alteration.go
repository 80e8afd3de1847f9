package conversation

// TextAlteration records a single edit made to an interaction's input or
// output text, together with the handler that made it. Alterations are
// immutable once appended; the interaction keeps them in chronological order.
//
// An empty AuthorID marks the raw client text, recorded when the interaction
// is created.
type TextAlteration struct {
	Text     string `json:"text" bson:"text"`
	AuthorID string `json:"authorID,omitempty" bson:"authorID,omitempty"`
}

// AudioRef is an opaque handle to an audio blob held by an AudioStore,
// together with its content type. The zero value means "no audio".
type AudioRef struct {
	Key         string `json:"key,omitempty" bson:"key,omitempty"`
	ContentType string `json:"contentType,omitempty" bson:"contentType,omitempty"`
}

func (r AudioRef) IsZero() bool {
	return r.Key == ""
}
