// Package singer writes Singer protocol messages and manages the catalog
// and state documents exchanged with Singer targets.
package singer

import (
	"time"

	"github.com/zmcp/tap-aptem/internal/schema"
)

// MessageType is the "type" member of a Singer message
type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is one line of Singer output
type Message struct {
	Type               MessageType            `json:"type"`
	Stream             string                 `json:"stream,omitempty"`
	Record             map[string]interface{} `json:"record,omitempty"`
	TimeExtracted      *time.Time             `json:"time_extracted,omitempty"`
	Schema             *schema.Property       `json:"schema,omitempty"`
	KeyProperties      []string               `json:"key_properties,omitempty"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
	Value              interface{}            `json:"value,omitempty"`
}

// SchemaMessage describes a stream before its records
func SchemaMessage(stream schema.StreamSchema) Message {
	msg := Message{
		Type:          TypeSchema,
		Stream:        stream.Name,
		Schema:        stream.Schema,
		KeyProperties: stream.KeyProperties,
	}
	if stream.ReplicationKey != "" {
		msg.BookmarkProperties = []string{stream.ReplicationKey}
	}
	return msg
}

// RecordMessage wraps one record
func RecordMessage(stream string, record map[string]interface{}, extracted time.Time) Message {
	t := extracted.UTC()
	return Message{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: &t,
	}
}

// StateMessage wraps the state document
func StateMessage(state *State) Message {
	return Message{
		Type:  TypeState,
		Value: state,
	}
}
