package server

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	// Type is "message", "connect", or "disconnect".
	Type string `json:"type"`

	// Content is the chat text for "message".
	Content string `json:"content,omitempty"`

	// Broker and Credentials accompany "connect".
	Broker      string       `json:"broker,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Credentials carries broker login fields over the wire. They are used for
// the login call and never stored.
type Credentials struct {
	APIKey   string `json:"api_key,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	PIN      string `json:"pin,omitempty"`
	TOTPCode string `json:"totp,omitempty"`
}

// ServerMessage is one outbound websocket frame.
type ServerMessage struct {
	// Type is "text", "connected", "disconnected", or "error".
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Broker  string `json:"broker,omitempty"`
}
