package relay

import "encoding/json"

// Envelope fields that drive routing. Everything else passes through.
const (
	fieldRequestID   = "request_id"
	fieldUserID      = "user_id"
	fieldRequestData = "request_data"
)

// Kind tells whether a payload decoded as JSON.
type Kind int

const (
	KindTyped Kind = iota
	KindRaw
)

func (k Kind) String() string {
	if k == KindRaw {
		return "raw"
	}
	return "typed"
}

// Envelope is a broker payload classified for routing. Typed envelopes carry
// the identities found in the document; raw envelopes only carry the bytes.
// Body is always forwarded to clients unchanged.
type Envelope struct {
	Kind      Kind
	RequestID string
	UserID    string
	Body      []byte
}

// Decode classifies body. request_id is read from the top level only;
// user_id is read from the top level, then from request_data.user_id.
// Identity fields that are not non-empty strings count as absent.
func Decode(body []byte) Envelope {
	if !json.Valid(body) {
		return Envelope{Kind: KindRaw, Body: body}
	}

	env := Envelope{Kind: KindTyped, Body: body}

	// Valid JSON that is not an object has no identities.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return env
	}

	env.RequestID = stringField(fields, fieldRequestID)
	env.UserID = stringField(fields, fieldUserID)

	if env.UserID == "" {
		var nested map[string]json.RawMessage
		if raw, ok := fields[fieldRequestData]; ok && json.Unmarshal(raw, &nested) == nil {
			env.UserID = stringField(nested, fieldUserID)
		}
	}

	return env
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
