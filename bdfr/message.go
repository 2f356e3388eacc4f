package bdfr

import (
	"encoding/json"
	"fmt"
	"os"
)

// Message is a reddit post or comment downloaded by bdfr.
type Message map[string]any

// GetString retrieves message's string value with the given key. It returns
// the empty string if the message does not contain the given key. It returns
// an error if the value is present but not a string.
func (m Message) GetString(key string) (string, error) {
	x := m[key]
	if x == nil {
		return "", nil
	}

	st, ok := x.(string)
	if !ok {
		return "", fmt.Errorf("wrong type for key=%s: have=%T want=string", key, x)
	}
	return st, nil
}

// GetBool retrieves message's boolean value with the given key. It returns
// false if the message does not contain the given key.
func (m Message) GetBool(key string) (bool, error) {
	x := m[key]
	if x == nil {
		return false, nil
	}

	b, ok := x.(bool)
	if !ok {
		return false, fmt.Errorf("wrong type for key=%s: have=%T want=bool", key, x)
	}
	return b, nil
}

// ReadMessage unmarshals a bdfr message from disk.
func ReadMessage(filename string) (Message, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	m := Message{}
	err = json.Unmarshal(b, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bdfr message: filename=%s: %w", filename, err)
	}

	return m, nil
}
