package fdfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header is the fixed frame preceding every request and response body.
type Header struct {
	Length  uint64
	Command byte
	Status  byte
}

// NewRequestHeader builds a request header; requests always carry status 0.
func NewRequestHeader(command byte, bodyLength int) Header {
	return Header{Length: uint64(bodyLength), Command: command}
}

// Bytes encodes the header: 8-byte big-endian length, command, status.
func (h Header) Bytes() []byte {
	buffer := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buffer, h.Length)
	buffer[PkgLenSize] = h.Command
	buffer[PkgLenSize+1] = h.Status
	return buffer
}

// ParseHeader decodes exactly HeaderSize bytes.
func ParseHeader(buffer []byte) (Header, error) {
	if len(buffer) != HeaderSize {
		return Header{}, &ProtocolError{Reason: fmt.Sprintf("header is %d bytes, want %d", len(buffer), HeaderSize)}
	}

	return Header{
		Length:  binary.BigEndian.Uint64(buffer),
		Command: buffer[PkgLenSize],
		Status:  buffer[PkgLenSize+1],
	}, nil
}

// ReadHeader reads and decodes one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buffer := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buffer); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Header{}, &ProtocolError{Reason: "short header", Err: err}
		}
		return Header{}, err
	}

	return ParseHeader(buffer)
}
