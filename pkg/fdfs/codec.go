package fdfs

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultTextEncoding is used when ClientConfig.TextEncoding is blank.
const DefaultTextEncoding = "UTF-8"

// TextCodec converts group names, file names and ip strings to and from wire bytes.
type TextCodec struct {
	name     string
	encoding encoding.Encoding
}

// NewTextCodec resolves an encoding label such as "utf-8" or "gbk".
func NewTextCodec(name string) (*TextCodec, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTextEncoding
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, configError("unknown text encoding %q", name)
	}

	return &TextCodec{name: name, encoding: enc}, nil
}

// UTF8Codec is the codec used when nothing else was configured.
func UTF8Codec() *TextCodec {
	return &TextCodec{name: DefaultTextEncoding, encoding: unicode.UTF8}
}

// Name returns the configured label.
func (c *TextCodec) Name() string { return c.name }

// Encode converts text to wire bytes.
func (c *TextCodec) Encode(text string) ([]byte, error) {
	data, err := c.encoding.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, argumentError("%q is not representable in %s", text, c.name)
	}
	return data, nil
}

// Decode converts wire bytes to text, dropping the NUL padding of fixed-width fields.
func (c *TextCodec) Decode(data []byte) (string, error) {
	data = bytes.TrimRight(data, "\x00")
	text, err := c.encoding.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// fixedField encodes text into a NUL padded slot of exactly width bytes.
func (c *TextCodec) fixedField(text string, width int) ([]byte, error) {
	data, err := c.Encode(text)
	if err != nil {
		return nil, err
	}

	if len(data) > width {
		return nil, argumentError("%q is %d bytes, field holds %d", text, len(data), width)
	}

	field := make([]byte, width)
	copy(field, data)
	return field, nil
}
