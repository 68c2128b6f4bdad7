package ig

// WebhookPayload is the envelope Meta posts to the webhook endpoint.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups messaging events for one Instagram account.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is a single inbound event: a message, a postback,
// or a delivery/read receipt.
type MessagingEvent struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message,omitempty"`
	Postback  *Postback   `json:"postback,omitempty"`
	Delivery  *Delivery   `json:"delivery,omitempty"`
	Read      *Read       `json:"read,omitempty"`
}

// Participant identifies a conversation party by Instagram-scoped ID.
type Participant struct {
	ID string `json:"id"`
}

// Message carries inbound text. IsEcho marks copies of our own
// outbound messages, which must not be processed.
type Message struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

// Postback is a button tap carrying an opaque payload string.
type Postback struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Delivery is a delivery receipt.
type Delivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// Read is a read receipt.
type Read struct {
	Watermark int64 `json:"watermark"`
}
