package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeAuthenticate = "authenticate"
	TypeAuthRequired = "auth_required"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeError        = "error"

	// TimestampLayout is ISO-8601 UTC with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

var ErrMalformedMessage = errors.New("malformed realtime message")

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Message is one of the control variants below or an AppMessage.
type Message interface {
	MessageType() string
	isMessage()
}

type Ping struct{}

type Pong struct{}

type Authenticate struct {
	Token string `json:"token"`
}

type AuthRequired struct {
	Reason string `json:"reason,omitempty"`
}

type Subscribe struct {
	Channel string         `json:"channel"`
	Params  map[string]any `json:"params,omitempty"`
}

type Unsubscribe struct {
	Channel string `json:"channel"`
}

type ErrorMessage struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// AppMessage carries any type the connection does not handle itself. The
// envelope is kept verbatim.
type AppMessage struct {
	Envelope Envelope
}

func (Ping) MessageType() string         { return TypePing }
func (Pong) MessageType() string         { return TypePong }
func (Authenticate) MessageType() string { return TypeAuthenticate }
func (AuthRequired) MessageType() string { return TypeAuthRequired }
func (Subscribe) MessageType() string    { return TypeSubscribe }
func (Unsubscribe) MessageType() string  { return TypeUnsubscribe }
func (ErrorMessage) MessageType() string { return TypeError }
func (m AppMessage) MessageType() string { return m.Envelope.Type }

func (Ping) isMessage()         {}
func (Pong) isMessage()         {}
func (Authenticate) isMessage() {}
func (AuthRequired) isMessage() {}
func (Subscribe) isMessage()    {}
func (Unsubscribe) isMessage()  {}
func (ErrorMessage) isMessage() {}
func (AppMessage) isMessage()   {}

func Encode(msg Message) ([]byte, error) {
	return encodeAt(msg, time.Now())
}

func encodeAt(msg Message, now time.Time) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode realtime message: nil message")
	}
	env := Envelope{Type: msg.MessageType(), Timestamp: now.UTC().Format(TimestampLayout)}

	switch m := msg.(type) {
	case Ping, Pong:
	case AppMessage:
		env = m.Envelope
		if strings.TrimSpace(env.Type) == "" {
			return nil, fmt.Errorf("encode realtime message: empty type")
		}
		if env.Timestamp == "" {
			env.Timestamp = now.UTC().Format(TimestampLayout)
		}
	default:
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses an inbound frame. Control types become their variant, every
// other type is returned as an AppMessage.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch env.Type {
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeAuthRequired:
		var m AuthRequired
		if err := decodeData(env, &m); err != nil {
			// a bare reason string is still a valid prompt
			var reason string
			if json.Unmarshal(env.Data, &reason) != nil {
				return nil, err
			}
			m.Reason = reason
		}
		return m, nil
	case TypeAuthenticate:
		var m Authenticate
		_ = decodeData(env, &m)
		return m, nil
	case TypeSubscribe:
		var m Subscribe
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeUnsubscribe:
		var m Unsubscribe
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeError:
		var m ErrorMessage
		if err := decodeData(env, &m); err != nil {
			var message string
			if json.Unmarshal(env.Data, &message) != nil {
				return nil, err
			}
			m.Message = message
		}
		return m, nil
	}
	return AppMessage{Envelope: env}, nil
}

func decodeData(env Envelope, out any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}
