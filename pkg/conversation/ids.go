package conversation

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type ConversationID uuid.UUID

type InteractionID uuid.UUID

var NullConversationID = ConversationID(uuid.Nil)

func NewConversationID() ConversationID {
	return ConversationID(uuid.New())
}

func NewInteractionID() InteractionID {
	return InteractionID(uuid.New())
}

func (id ConversationID) String() string {
	return uuid.UUID(id).String()
}

func (id InteractionID) String() string {
	return uuid.UUID(id).String()
}

func (id ConversationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *ConversationID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func (id InteractionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *InteractionID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = InteractionID(u)
	return nil
}

// IDs are stored as their canonical string form so that a descending sort on
// the identifier column is well-defined across drivers.

func (id ConversationID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(uuid.UUID(id).String())
}

func (id *ConversationID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func (id InteractionID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(uuid.UUID(id).String())
}

func (id *InteractionID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = InteractionID(u)
	return nil
}
