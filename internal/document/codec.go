package document

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Codec converts between file bytes and buffer text using one fixed encoding
type Codec struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

// NewCodec resolves an encoding name such as "utf-8" or "windows-1251"
func NewCodec(name string) (*Codec, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, _ := htmlindex.Name(enc)
	return &Codec{
		name: canonical,
		enc:  enc,
		utf8: strings.EqualFold(canonical, "utf-8"),
	}, nil
}

// Name returns the canonical encoding name
func (c *Codec) Name() string {
	return c.name
}

// Decode turns file content into text. Invalid UTF-8 is an error rather than
// being replaced.
func (c *Codec) Decode(data []byte) (string, error) {
	if c.utf8 {
		data = bytes.TrimPrefix(data, utf8BOM)
		out, _, err := transform.Bytes(encoding.UTF8Validator, data)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", c.name, err)
		}
		return string(out), nil
	}
	out, _, err := transform.Bytes(c.enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.name, err)
	}
	return string(out), nil
}

// Encode turns buffer text into file content
func (c *Codec) Encode(text string) ([]byte, error) {
	if c.utf8 {
		return []byte(text), nil
	}
	out, _, err := transform.Bytes(c.enc.NewEncoder(), []byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}
