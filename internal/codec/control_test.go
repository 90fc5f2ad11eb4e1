package codec

import (
	"testing"

	"github.com/kavascapital/marketfeed/internal/model"
)

func TestEncodeSubscribe(t *testing.T) {
	data, err := EncodeSubscribe([]model.InstrumentToken{408065, 5633})
	if err != nil {
		t.Fatalf("EncodeSubscribe() error: %v", err)
	}
	want := `{"a":"subscribe","v":[408065,5633]}`
	if string(data) != want {
		t.Errorf("EncodeSubscribe() = %s, want %s", data, want)
	}
}

func TestEncodeUnsubscribe(t *testing.T) {
	data, err := EncodeUnsubscribe([]model.InstrumentToken{5633})
	if err != nil {
		t.Fatalf("EncodeUnsubscribe() error: %v", err)
	}
	want := `{"a":"unsubscribe","v":[5633]}`
	if string(data) != want {
		t.Errorf("EncodeUnsubscribe() = %s, want %s", data, want)
	}
}

func TestEncodeMode(t *testing.T) {
	data, err := EncodeMode(model.ModeFull, []model.InstrumentToken{738561})
	if err != nil {
		t.Fatalf("EncodeMode() error: %v", err)
	}
	want := `{"a":"mode","v":["full",[738561]]}`
	if string(data) != want {
		t.Errorf("EncodeMode() = %s, want %s", data, want)
	}
}
