// Package wechat provides the boundary to the desktop chat client automation driver.
// The driver runs as a local sidecar process and exposes its primitives over HTTP.
package wechat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Direction tells who authored a message.
type Direction string

const (
	DirectionSelf Direction = "self"
	DirectionPeer Direction = "peer"
)

// Kind is the normalized message type.
type Kind string

const (
	KindText       Kind = "text"
	KindSystem     Kind = "system"
	KindTimeMarker Kind = "time-marker"
)

// attrSelf is the attribute the driver uses for messages sent by the logged-in account.
const attrSelf = "self"

// attrBase marks driver-generated rows such as time separators.
const attrBase = "base"

// Message is a raw message reported by the automation driver.
// Fields are populated at decode time; missing fields stay empty.
type Message struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Attr    string `json:"attr"`
	Type    string `json:"type"`
	Time    string `json:"time"`
	Hash    string `json:"hash,omitempty"`
}

// Direction returns DirectionSelf for self-authored echoes and DirectionPeer otherwise.
func (m *Message) Direction() Direction {
	if m.Attr == attrSelf {
		return DirectionSelf
	}
	return DirectionPeer
}

// Kind maps the driver's type and attribute labels onto a Kind.
func (m *Message) Kind() Kind {
	switch {
	case m.Sender == attrBase && m.Attr == attrBase:
		return KindTimeMarker
	case m.Type == "system":
		return KindSystem
	default:
		return KindText
	}
}

// UnmarshalJSON accepts the heterogeneous shapes the driver emits:
// numeric times and hashes, and alternative key names.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Content = firstString(raw, "content", "text", "msg")
	m.Sender = firstString(raw, "sender", "sender_name", "from")
	m.Attr = firstString(raw, "attr", "sender_type")
	m.Type = firstString(raw, "type", "msg_type")
	m.Time = firstString(raw, "time", "timestamp")
	m.Hash = firstString(raw, "hash", "id")
	if m.Type == "" {
		m.Type = string(KindText)
	}
	return nil
}

// Batch is one result of a next-message fetch.
type Batch struct {
	ChatName string
	ChatKind string
	Messages []*Message
}

// UnmarshalJSON accepts either a list or a single object under the message key.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChatName string          `json:"chat_name"`
		Who      string          `json:"who"`
		ChatType string          `json:"chat_type"`
		Msg      json.RawMessage `json:"msg"`
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.ChatName = raw.ChatName
	if b.ChatName == "" {
		b.ChatName = raw.Who
	}
	b.ChatKind = raw.ChatType

	payload := raw.Msg
	if len(payload) == 0 || string(payload) == "null" {
		payload = raw.Messages
	}
	msgs, err := decodeMessages(payload)
	if err != nil {
		return err
	}
	b.Messages = msgs
	return nil
}

// IsEmpty reports whether the fetch returned nothing to route.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Messages) == 0
}

// Identity is the logged-in account reported by the driver.
type Identity struct {
	Nickname  string
	AccountID string
}

// UnmarshalJSON accepts the key variants seen across driver versions.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.Nickname = s
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.Nickname = firstString(raw, "nickname", "name", "username", "display_name")
	i.AccountID = firstString(raw, "wxid", "id", "user_id")
	return nil
}

// Valid reports whether the identity carries a usable nickname.
func (i *Identity) Valid() bool {
	return i != nil && i.Nickname != "" && i.Nickname != "Unknown"
}

// LoadResult is the outcome of a load-more-history call.
type LoadResult struct {
	More    bool
	Message string
}

func decodeMessages(payload json.RawMessage) ([]*Message, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var single Message
		if err := json.Unmarshal(payload, &single); err != nil {
			return nil, err
		}
		return []*Message{&single}, nil
	}
	var list []*Message
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, err
	}
	out := list[:0]
	for _, m := range list {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}
