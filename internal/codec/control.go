package codec

import (
	"encoding/json"

	"github.com/kavascapital/marketfeed/internal/model"
)

// controlMessage is the JSON envelope the upstream provider accepts for
// subscription management.
type controlMessage struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

// EncodeSubscribe builds a subscribe control message for the given tokens.
func EncodeSubscribe(tokens []model.InstrumentToken) ([]byte, error) {
	return json.Marshal(controlMessage{Action: "subscribe", Value: tokens})
}

// EncodeUnsubscribe builds an unsubscribe control message.
func EncodeUnsubscribe(tokens []model.InstrumentToken) ([]byte, error) {
	return json.Marshal(controlMessage{Action: "unsubscribe", Value: tokens})
}

// EncodeMode builds a mode control message setting the richness level for
// the given tokens. The provider applies the mode on top of an existing
// subscription.
func EncodeMode(mode model.Mode, tokens []model.InstrumentToken) ([]byte, error) {
	return json.Marshal(controlMessage{Action: "mode", Value: []any{mode.String(), tokens}})
}
