package broadcaster

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const SchemaVersion = 1

// Message is the envelope of every outbound push.
type Message struct {
	Id            string    `json:"id"`
	Type          string    `json:"type"`
	Data          any       `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schemaVersion"`
}

func NewMessage(messageType string, data any) Message {
	return Message{
		Id:            gonanoid.Must(),
		Type:          messageType,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}
}
