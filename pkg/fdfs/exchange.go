package fdfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"
)

// maxPrealloc caps how much buffer a declared body length can reserve up front.
const maxPrealloc = 1 << 20

// ExchangeResult carries the outcome of an asynchronous exchange.
type ExchangeResult struct {
	Body []byte
	Err  error
}

// Exchange writes one request frame and returns the complete response body.
// Any fault that leaves the stream unusable marks the session broken.
func Exchange(session *Session, header Header, body []byte) ([]byte, error) {
	response, err := roundTrip(session, header, body)
	if err != nil {
		return nil, err
	}
	defer clearDeadline(session)

	if response.Length == 0 {
		return []byte{}, nil
	}

	buffer := &bytes.Buffer{}
	if response.Length < maxPrealloc {
		buffer.Grow(int(response.Length))
	} else {
		buffer.Grow(maxPrealloc)
	}

	if _, err = readBody(session, header.Command, response.Length, buffer); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// ExchangeTo is Exchange with the response body streamed into w instead of memory.
func ExchangeTo(session *Session, header Header, body []byte, w io.Writer) (int64, error) {
	response, err := roundTrip(session, header, body)
	if err != nil {
		return 0, err
	}
	defer clearDeadline(session)

	if response.Length == 0 {
		return 0, nil
	}

	return readBody(session, header.Command, response.Length, w)
}

// ExchangeAsync runs Exchange on its own goroutine; the channel yields exactly one result.
func ExchangeAsync(session *Session, header Header, body []byte) <-chan ExchangeResult {
	result := make(chan ExchangeResult, 1)

	go func() {
		defer close(result)
		data, err := Exchange(session, header, body)
		result <- ExchangeResult{Body: data, Err: err}
	}()

	return result
}

// roundTrip sends header+body and reads the response header, rejecting non-zero status.
func roundTrip(session *Session, header Header, body []byte) (Header, error) {
	if header.Length != uint64(len(body)) {
		return Header{}, argumentError("header declares %d body bytes, body has %d", header.Length, len(body))
	}

	conn := session.Conn()
	if timeout := session.ioTimeout(); timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	buffers := net.Buffers{header.Bytes(), body}
	if _, err := buffers.WriteTo(conn); err != nil {
		session.MarkBroken()
		clearDeadline(session)
		return Header{}, &ConnectionError{Endpoint: session.Endpoint, Op: "write request", Err: err}
	}

	response, err := ReadHeader(conn)
	if err != nil {
		session.MarkBroken()
		clearDeadline(session)

		var protocolErr *ProtocolError
		if errors.As(err, &protocolErr) {
			protocolErr.Endpoint = session.Endpoint
			protocolErr.Command = header.Command
			return Header{}, protocolErr
		}
		return Header{}, &ConnectionError{Endpoint: session.Endpoint, Op: "read response header", Err: err}
	}

	if response.Status != 0 {
		// The error body is left unread, so the stream is only reusable when there is none.
		if response.Length != 0 {
			session.MarkBroken()
		}
		clearDeadline(session)
		return Header{}, &ProtocolError{
			Endpoint: session.Endpoint,
			Command:  header.Command,
			Status:   response.Status,
			Reason:   "response status not ok",
		}
	}

	if response.Length > math.MaxInt64 {
		session.MarkBroken()
		clearDeadline(session)
		return Header{}, &ProtocolError{
			Endpoint: session.Endpoint,
			Command:  header.Command,
			Reason:   fmt.Sprintf("body length %d overflows", response.Length),
		}
	}

	return response, nil
}

// readBody copies exactly length bytes; an early end of stream is a truncated response.
func readBody(session *Session, command byte, length uint64, w io.Writer) (int64, error) {
	source := &trackedReader{reader: session.Conn()}

	n, err := io.CopyN(w, source, int64(length))
	if err == nil {
		return n, nil
	}

	session.MarkBroken()

	switch {
	case errors.Is(err, io.EOF):
		return n, &ProtocolError{
			Endpoint: session.Endpoint,
			Command:  command,
			Reason:   fmt.Sprintf("truncated response: got %d of %d bytes", n, length),
			Err:      io.ErrUnexpectedEOF,
		}
	case source.err != nil:
		return n, &ConnectionError{Endpoint: session.Endpoint, Op: "read response body", Err: err}
	default:
		return n, err
	}
}

func clearDeadline(session *Session) {
	if session.ioTimeout() > 0 {
		_ = session.Conn().SetDeadline(time.Time{})
	}
}

// trackedReader remembers socket errors so they can be told apart from sink errors.
type trackedReader struct {
	reader io.Reader
	err    error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
