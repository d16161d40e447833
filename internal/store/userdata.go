// Package store holds the durable user document: a JSON object whose
// top-level keys are merged shallowly on every save.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("store: user data not found")

// Document is the user document split at its top level.
type Document map[string]json.RawMessage

// ParseDocument accepts an empty payload as an empty document.
func ParseDocument(raw []byte) (Document, error) {
	doc := Document{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Merge overwrites each given key, leaving the others untouched.
func (d Document) Merge(fields map[string]json.RawMessage) {
	for k, v := range fields {
		d[k] = append(json.RawMessage(nil), v...)
	}
}

// Encode renders the document with two-space indentation and sorted keys.
func (d Document) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(map[string]json.RawMessage(d), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode user data: %w", err)
	}
	return append(out, '\n'), nil
}
