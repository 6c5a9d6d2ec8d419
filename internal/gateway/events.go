package gateway

import "encoding/json"

// Envelope is the wire frame for both directions: an event name plus an
// event-specific payload. There are no correlation ids; replies are matched
// by connection identity and session code.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads.

type setPlatformPayload struct {
	Platform string `json:"platform"`
}

type joinGamePayload struct {
	GameID string `json:"gameId"`
}

type movePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type requestAIMovePayload struct {
	FEN string `json:"fen"`
}

// Outbound payloads.

type gameCreatedPayload struct {
	GameID string `json:"gameId"`
	Color  string `json:"color"`
}

type gameJoinedPayload struct {
	GameID           string `json:"gameId"`
	Color            string `json:"color"`
	FEN              string `json:"fen"`
	OpponentPlatform string `json:"opponentPlatform,omitempty"`
}

type opponentJoinedPayload struct {
	Platform string `json:"platform,omitempty"`
}

type moveMadePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	FEN       string `json:"fen"`
}

type gameOverPayload struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

type drawPayload struct {
	From string `json:"from"`
}

type aiMovePayload struct {
	Move string `json:"move"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
