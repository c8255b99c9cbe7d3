package model

import "time"

// Direction indicates whether a conversation message was received by the
// service or sent by it.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// RawMessage is a fetched, unprocessed mail item. It exists only between
// the IMAP fetch and the processing queue; once a message has been
// persisted as a ConversationMessage the RawMessage is discarded.
type RawMessage struct {
	// From is the sender address.
	From string `json:"from"`

	// Subject is the message subject line.
	Subject string `json:"subject"`

	// Body is the extracted plain-text body.
	Body string `json:"body"`

	// MessageID is the RFC 5322 Message-ID, used for reply threading
	// headers. May be empty.
	MessageID string `json:"message_id,omitempty"`

	// UID is the server-assigned IMAP sequence token.
	UID uint32 `json:"uid"`

	// ReceivedAt is the receipt timestamp reported by the server.
	ReceivedAt time.Time `json:"received_at"`
}

// ConversationMessage is the durable unit of conversation history.
// Records are append-only: created once per processed message, never
// mutated, never deleted by the pipeline.
type ConversationMessage struct {
	// ID is the internal unique identifier for this record.
	ID string `db:"id" json:"id"`

	// Fingerprint is the content-derived idempotency key. It is unique
	// across the conversation log; a duplicate fingerprint means the
	// message has already been processed.
	Fingerprint string `db:"fingerprint" json:"fingerprint"`

	// From is the sender address.
	From string `db:"from_addr" json:"from"`

	// To is the recipient address. Empty for incoming messages.
	To string `db:"to_addr" json:"to,omitempty"`

	// Subject is the message subject line.
	Subject string `db:"subject" json:"subject"`

	// Body is the message body text.
	Body string `db:"body" json:"body"`

	// Direction records whether the message was received or sent.
	Direction Direction `db:"direction" json:"direction"`

	// ThreadID correlates an outgoing reply with the incoming message
	// it answers (the incoming record's ID). Empty for incoming
	// messages that start a thread.
	ThreadID string `db:"thread_id" json:"thread_id,omitempty"`

	// TokensUsed is the token count reported by the language model for
	// generated replies. Zero for incoming messages.
	TokensUsed int `db:"tokens_used" json:"tokens_used,omitempty"`

	// ModelID identifies the model that generated an outgoing reply.
	ModelID string `db:"model_id" json:"model_id,omitempty"`

	// CreatedAt is the record creation time.
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
