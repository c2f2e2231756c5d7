package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
	}{
		{
			name: "join",
			in:   `{"room":"room1","username":"alice","timestamp":1700000000,"data":"join"}`,
			want: Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindJoin}},
		},
		{
			name: "leave",
			in:   `{"room":"room1","username":"alice","timestamp":1700000000,"data":"leave"}`,
			want: Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindLeave}},
		},
		{
			name: "text",
			in:   `{"room":"room1","username":"alice","timestamp":1700000000,"data":{"message":"hello world"}}`,
			want: Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindText, Text: "hello world"}},
		},
		{
			name: "empty text is valid",
			in:   `{"room":"room1","username":"alice","timestamp":1700000000,"data":{"message":""}}`,
			want: Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindText}},
		},
		{
			name: "extra top-level keys tolerated",
			in:   `{"room":"room1","username":"alice","timestamp":1700000000,"data":"join","trace":"abc"}`,
			want: Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindJoin}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"unknown tag", `{"room":"r","username":"u","timestamp":1,"data":"party"}`},
		{"tag with padding", `{"room":"r","username":"u","timestamp":1,"data":"join "}`},
		{"numeric data", `{"room":"r","username":"u","timestamp":1,"data":7}`},
		{"array data", `{"room":"r","username":"u","timestamp":1,"data":["join"]}`},
		{"null data", `{"room":"r","username":"u","timestamp":1,"data":null}`},
		{"object without message key", `{"room":"r","username":"u","timestamp":1,"data":{}}`},
		{"object with extra key", `{"room":"r","username":"u","timestamp":1,"data":{"message":"m","x":1}}`},
		{"object with wrong key", `{"room":"r","username":"u","timestamp":1,"data":{"text":"m"}}`},
		{"missing room", `{"username":"u","timestamp":1,"data":"join"}`},
		{"missing username", `{"room":"r","timestamp":1,"data":"join"}`},
		{"missing timestamp", `{"room":"r","username":"u","data":"join"}`},
		{"missing data", `{"room":"r","username":"u","timestamp":1}`},
		{"empty room", `{"room":"","username":"u","timestamp":1,"data":"join"}`},
		{"empty username", `{"room":"r","username":"","timestamp":1,"data":"join"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeWire(t *testing.T) {
	msg := Message{Room: "room1", Username: "alice", Timestamp: 1700000000, Data: Data{Kind: KindText, Text: "hi"}}
	b, err := msg.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"room":"room1","username":"alice","timestamp":1700000000,"data":{"message":"hi"}}`, string(b))

	b, err = Message{Room: "r", Username: "u", Timestamp: 1, Data: Data{Kind: KindJoin}}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"room":"r","username":"u","timestamp":1,"data":"join"}`, string(b))

	b, err = Message{Room: "r", Username: "u", Timestamp: 1, Data: Data{Kind: KindLeave}}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"room":"r","username":"u","timestamp":1,"data":"leave"}`, string(b))
}

func TestEncodeRejectsZeroVariant(t *testing.T) {
	_, err := Message{Room: "r", Username: "u", Timestamp: 1}.Encode()
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, msg := range []Message{
		NewJoin("room1", "alice"),
		NewLeave("room1", "alice"),
		NewText("room1", "alice", "hello world"),
	} {
		b, err := msg.Encode()
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestConstructorsStampTimestamp(t *testing.T) {
	before := time.Now().Unix()
	msg := NewText("room1", "alice", "hi")
	after := time.Now().Unix()

	require.GreaterOrEqual(t, msg.Timestamp, before)
	require.LessOrEqual(t, msg.Timestamp, after)
	require.Equal(t, "room1", msg.Room)
	require.Equal(t, "alice", msg.Username)
	require.Equal(t, Data{Kind: KindText, Text: "hi"}, msg.Data)
}

func TestDataIsValidJSONValue(t *testing.T) {
	// Data must round-trip inside arbitrary JSON containers too.
	var holder struct {
		D Data `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"leave"}`), &holder))
	require.Equal(t, Data{Kind: KindLeave}, holder.D)
}
