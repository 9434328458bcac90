// Package drafty handles the rich-text message format at the boundary the
// client core needs: deciding whether content is plain text, extracting
// out-of-band attachment references, and producing short previews.
// The format itself is opaque to the rest of the library.
package drafty

import (
	"encoding/json"
	"errors"

	"github.com/rivo/uniseg"
)

var (
	errUnrecognized = errors.New("drafty: content unrecognized")
	errInvalid      = errors.New("drafty: invalid format")
)

// MIME type reported in message heads for non-plain-text content.
const ContentType = "text/x-drafty"

type style struct {
	Tp     string `json:"tp,omitempty"`
	At     int    `json:"at,omitempty"`
	Length int    `json:"len,omitempty"`
	Key    int    `json:"key,omitempty"`
}

type entity struct {
	Tp   string         `json:"tp,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Document is a parsed drafty message.
type Document struct {
	Txt string   `json:"txt,omitempty"`
	Fmt []style  `json:"fmt,omitempty"`
	Ent []entity `json:"ent,omitempty"`
}

// Parse wraps a plain string into a drafty document. Unlike the full format
// it performs no markup detection; the library only needs the envelope.
func Parse(text string) *Document {
	return &Document{Txt: text}
}

// Decode converts raw message content to a Document. Accepts a bare string,
// a JSON-decoded map, or an already-parsed *Document.
func Decode(content any) (*Document, error) {
	switch c := content.(type) {
	case nil:
		return nil, errUnrecognized
	case *Document:
		return c, nil
	case string:
		return &Document{Txt: c}, nil
	case map[string]any:
		// Round-trip through JSON to reuse strict field decoding.
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, errInvalid
		}
		var doc Document
		if err = json.Unmarshal(raw, &doc); err != nil {
			return nil, errInvalid
		}
		if doc.Txt == "" && doc.Fmt == nil && doc.Ent == nil {
			return nil, errUnrecognized
		}
		return &doc, nil
	default:
		return nil, errUnrecognized
	}
}

// IsPlainText reports whether content carries no formatting or entities and
// can be displayed as an ordinary string.
func IsPlainText(content any) bool {
	if _, ok := content.(string); ok {
		return true
	}
	doc, err := Decode(content)
	if err != nil {
		return false
	}
	return len(doc.Fmt) == 0 && len(doc.Ent) == 0
}

// ToPlainText strips formatting and returns the text content.
func ToPlainText(content any) (string, error) {
	doc, err := Decode(content)
	if err != nil {
		return "", err
	}
	return doc.Txt, nil
}

// Preview returns the first length grapheme clusters of the text content.
// Truncation happens on cluster boundaries so combined emoji and accented
// characters survive intact.
func Preview(content any, length int) (string, error) {
	txt, err := ToPlainText(content)
	if err != nil {
		return "", err
	}

	var out []byte
	state := -1
	var cluster string
	for remaining := txt; len(remaining) > 0 && length > 0; length-- {
		cluster, remaining, _, state = uniseg.StepString(remaining, state)
		out = append(out, cluster...)
	}
	return string(out), nil
}

// EntityURLs extracts references to out-of-band attachments: entity data
// "ref" fields of EX (attachment) and IM (image) entities. A publish request
// carrying such content must list these URLs in the message head.
func EntityURLs(content any) []string {
	doc, err := Decode(content)
	if err != nil {
		return nil
	}

	var urls []string
	for _, ent := range doc.Ent {
		if ent.Tp != "EX" && ent.Tp != "IM" && ent.Tp != "VD" {
			continue
		}
		if ref, ok := ent.Data["ref"].(string); ok && ref != "" {
			urls = append(urls, ref)
		}
	}
	return urls
}
