package types

import "time"

// ClientConfig holds the settings needed to talk to the push gateway.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Payload is the data object delivered to the device.
type Payload struct {
	Msg string `json:"msg"`
}

// SendRequest is one batch send: a message body fanned out to a list of
// device registration tokens. Result rows in the response are index-aligned
// with RegistrationIDs.
type SendRequest struct {
	RegistrationIDs []string `json:"registration_ids"`
	Data            Payload  `json:"data"`
	CollapseKey     string   `json:"collapse_key,omitempty"`
	DelayWhileIdle  bool     `json:"delay_while_idle"`
}

// Result is the gateway's outcome for a single recipient. Exactly one of
// MessageID or Error is meaningful; RegistrationID, when set, is the
// canonical replacement token for the recipient at the same index in the
// request.
type Result struct {
	MessageID      string    `json:"message_id,omitempty"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Error          ErrorCode `json:"error,omitempty"`
}

// SendResponse is the parsed gateway response. HTTPStatus and
// RetryAfterSeconds come from the transport layer, the rest from the JSON
// body (absent when the gateway answered with a bare 5xx).
type SendResponse struct {
	MulticastID  int64    `json:"multicast_id"`
	Success      int      `json:"success"`
	Failure      int      `json:"failure"`
	CanonicalIDs int      `json:"canonical_ids"`
	Results      []Result `json:"results"`

	HTTPStatus        int  `json:"-"`
	RetryAfterSeconds *int `json:"-"`
}

// OK reports whether the gateway accepted the batch.
func (r *SendResponse) OK() bool {
	return r.HTTPStatus == 200
}

// Overloaded reports whether the gateway asked us to slow down with a
// 5xx-class status.
func (r *SendResponse) Overloaded() bool {
	return r.HTTPStatus >= 500
}

// NeedsResultProcessing reports whether the per-recipient result list has to
// be walked at all: only when something failed or an identifier was rotated.
func (r *SendResponse) NeedsResultProcessing() bool {
	return r.Failure > 0 || r.CanonicalIDs > 0
}
