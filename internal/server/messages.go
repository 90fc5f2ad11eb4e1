package server

// instrumentRequest names one instrument in a subscribe request.
type instrumentRequest struct {
	InstrumentToken int64  `json:"instrument_token"`
	Mode            string `json:"mode,omitempty"`
}

// clientRequest is an inbound control message from a client.
type clientRequest struct {
	Action      string              `json:"action"`
	Instruments []instrumentRequest `json:"instruments"`
}

// clientResponse acknowledges a control message.
type clientResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// streamMessage is one outbound data frame.
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	statusSuccess = "success"
	statusError   = "error"

	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)
