package queue

import (
	"encoding/json"
	"strconv"
)

// Stream entry field names shared by producers and consumers.
const (
	fieldPayload         = "payload"
	fieldRetryCount      = "retry_count"
	fieldSourceMessageID = "source_message_id"
	fieldError           = "error"
	fieldOriginalStream  = "original_stream"
	fieldOriginalGroup   = "original_group"
	fieldOriginalID      = "original_message_id"
)

// Message is one entry read from a stream through a consumer group.
type Message struct {
	// ID is the log-assigned entry id, monotonic within the stream.
	ID string

	// Payload is the decoded message body. Malformed payloads decode to an
	// empty map rather than failing the read.
	Payload map[string]any

	// RetryCount is how many times this message has been re-enqueued after
	// a handler failure. Originals carry 0.
	RetryCount int

	// SourceMessageID is the id of the message this one supersedes after a
	// retry re-enqueue; empty for originals.
	SourceMessageID string
}

// encodePayload serializes a queue payload to compact JSON.
func encodePayload(payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodePayload parses a payload field. Anything that is not a JSON object
// decodes to an empty map.
func decodePayload(raw string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed == nil {
		return map[string]any{}
	}
	return parsed
}

// parseMessage builds a Message from raw stream entry fields.
func parseMessage(id string, fields map[string]string) Message {
	retryCount, err := strconv.Atoi(fields[fieldRetryCount])
	if err != nil || retryCount < 0 {
		retryCount = 0
	}

	return Message{
		ID:              id,
		Payload:         decodePayload(fields[fieldPayload]),
		RetryCount:      retryCount,
		SourceMessageID: fields[fieldSourceMessageID],
	}
}
