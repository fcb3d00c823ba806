package somnia

import "encoding/json"

// wsCommand is a client-to-server request. Every command carries an id that
// the server echoes in its response.
type wsCommand struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Stream string `json:"stream"`
}

// wsMessage is any server-to-client frame. Responses carry ID; pushed
// records carry Type "data", Stream and Data.
type wsMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Result string          `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Type   string          `json:"type,omitempty"`
	Stream string          `json:"stream,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	msgTypeData       = "data"
)
