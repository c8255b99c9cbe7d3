package model

import "time"

// ServiceHealth is the aggregate health view exposed to the API layer.
// It is written only by the pipeline worker; readers get copies.
type ServiceHealth struct {
	// Running reports whether the pipeline worker loop is active.
	Running bool `json:"running"`

	// LastCheck is the time of the last successful health probe.
	LastCheck time.Time `json:"last_check"`

	// MailOK reports connectivity to the mail transport.
	MailOK bool `json:"mail_ok"`

	// LLMOK reports connectivity to the language model service.
	LLMOK bool `json:"llm_ok"`

	// StoreOK reports that the conversation store is reachable.
	StoreOK bool `json:"store_ok"`

	// LastError is the most recent collaborator error message, if any.
	LastError string `json:"last_error,omitempty"`
}
