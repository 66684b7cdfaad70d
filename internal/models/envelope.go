package models

// EnvelopeType tags the closed set of live-relay event kinds. Envelopes with
// any other tag are dropped by the connection session.
type EnvelopeType string

const (
	EnvelopeChatMessage     EnvelopeType = "chat_message"
	EnvelopeChatRequest     EnvelopeType = "chat_request"
	EnvelopeRequestResponse EnvelopeType = "request_response"
)

// Envelope is the wire unit exchanged over a live connection.
//
// Sender is always stamped by the server from the authenticated session; a
// value supplied by the client is discarded. To optionally names the user
// whose connections should receive the publish; when empty the envelope goes
// to the sender's own group (all of their devices).
type Envelope struct {
	Type     EnvelopeType `json:"type"`
	Sender   string       `json:"sender,omitempty"`
	To       string       `json:"to,omitempty"`
	Message  string       `json:"message,omitempty"`
	Response string       `json:"response,omitempty"`
}
