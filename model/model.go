package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Kind discriminates the payload variants a message envelope can carry.
// The set is closed: decoding anything else is a protocol error.
type Kind uint8

const (
	KindJoin Kind = iota + 1
	KindLeave
	KindText
)

// Variant tags on the wire. External contract, clients must match exactly.
const (
	tagJoin  = "join"
	tagLeave = "leave"
)

var (
	ErrMalformed = errors.New("malformed message")

	errUnknownVariant = errors.New("unknown data variant")
	errMissingField   = errors.New("missing envelope field")
	errEmptyRoom      = errors.New("empty room")
	errEmptyUsername  = errors.New("empty username")
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return tagJoin
	case KindLeave:
		return tagLeave
	case KindText:
		return "text"
	}
	return "unknown"
}

// Data is the payload variant. Text is meaningful only for KindText.
type Data struct {
	Kind Kind
	Text string
}

type textData struct {
	Message *string `json:"message"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case KindJoin:
		return json.Marshal(tagJoin)
	case KindLeave:
		return json.Marshal(tagLeave)
	case KindText:
		return json.Marshal(textData{Message: &d.Text})
	}
	return nil, errUnknownVariant
}

func (d *Data) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if len(raw) == 0 {
		return errUnknownVariant
	}
	switch raw[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return err
		}
		switch tag {
		case tagJoin:
			*d = Data{Kind: KindJoin}
		case tagLeave:
			*d = Data{Kind: KindLeave}
		default:
			return errUnknownVariant
		}
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var td textData
		if err := dec.Decode(&td); err != nil {
			return err
		}
		if td.Message == nil {
			return errUnknownVariant
		}
		*d = Data{Kind: KindText, Text: *td.Message}
	default:
		return errUnknownVariant
	}
	return nil
}

// Message is the wire envelope. Immutable once constructed; relayed by
// pointer and never mutated after publish.
type Message struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	Data      Data   `json:"data"`
}

// New stamps the envelope with the wall clock at construction time.
// The timestamp is a client hint only, it carries no ordering guarantee.
func New(room, username string, data Data) Message {
	return Message{
		Room:      room,
		Username:  username,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

func NewJoin(room, username string) Message {
	return New(room, username, Data{Kind: KindJoin})
}

func NewLeave(room, username string) Message {
	return New(room, username, Data{Kind: KindLeave})
}

func NewText(room, username, text string) Message {
	return New(room, username, Data{Kind: KindText, Text: text})
}

// Decode parses one wire frame. Unknown top-level keys are tolerated,
// missing envelope fields, an empty room or username, and unknown data
// variants are not.
func Decode(b []byte) (Message, error) {
	var raw struct {
		Room      *string `json:"room"`
		Username  *string `json:"username"`
		Timestamp *int64  `json:"timestamp"`
		Data      *Data   `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Message{}, errors.Join(ErrMalformed, err)
	}
	if raw.Room == nil || raw.Username == nil || raw.Timestamp == nil || raw.Data == nil {
		return Message{}, errors.Join(ErrMalformed, errMissingField)
	}
	if *raw.Room == "" {
		return Message{}, errors.Join(ErrMalformed, errEmptyRoom)
	}
	if *raw.Username == "" {
		return Message{}, errors.Join(ErrMalformed, errEmptyUsername)
	}
	return Message{
		Room:      *raw.Room,
		Username:  *raw.Username,
		Timestamp: *raw.Timestamp,
		Data:      *raw.Data,
	}, nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
