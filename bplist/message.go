package bplist

import (
	"fmt"
)

// Message is a decoded JSON object from a .bplist manifest. Manifests come
// from many exporters with loosely agreed-on fields, so accessors tolerate
// missing keys and wrong types rather than failing the whole parse.
type Message map[string]any

// GetString retrieves the message's string value with the given key. It
// returns the empty string if the key is absent or holds a non-string value.
func (m Message) GetString(key string) string {
	st, ok := m[key].(string)
	if !ok {
		return ""
	}
	return st
}

// GetMessage retrieves the message's object value with the given key. It
// returns nil if the key is absent or holds a non-object value.
func (m Message) GetMessage(key string) Message {
	sub, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return Message(sub)
}

// GetSliceOfMessages retrieves the message's value with the given key and
// returns it as a slice of messages. For example, it would retrieve a
// manifest's "songs" field. It returns nil if the message does not contain a
// matching key. It returns an error if the retrieved field is not a slice of
// objects.
func (m Message) GetSliceOfMessages(key string) ([]Message, error) {
	x := m[key]
	if x == nil {
		return nil, nil
	}

	slice, ok := x.([]any)
	if !ok {
		return nil, fmt.Errorf("wrong type for key=%s: have=%T want=[]any", key, x)
	}

	// Non-nil even when empty: an empty slice is present, a nil one absent.
	ms := make([]Message, 0, len(slice))
	for i, a := range slice {
		sub, ok := a.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("wrong type for key=%s,idx=%d: have=%T want=map[string]any", key, i, a)
		}
		ms = append(ms, Message(sub))
	}

	return ms, nil
}
