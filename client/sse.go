package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Frame is one Server-Sent Events message.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// Version is the board version carried in the frame id, 0 when absent.
func (f Frame) Version() int64 {
	v, err := strconv.ParseInt(f.ID, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// EventStream reads frames from an open /api/stream response.
type EventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Stream subscribes to the board's event stream.
func (c *Client) Stream(ctx context.Context) (*EventStream, error) {
	target := c.BaseURL + "/api/stream"
	if c.BoardID != "" {
		target += "?board=" + url.QueryEscape(c.BoardID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return NewEventStream(resp.Body), nil
}

// NewEventStream reads frames from r.
func NewEventStream(r io.ReadCloser) *EventStream {
	return &EventStream{body: r, reader: bufio.NewReader(r)}
}

// Next blocks until a complete frame arrives. Comment lines (heartbeats) are
// skipped. io.EOF is returned when the server closes the stream.
func (s *EventStream) Next() (Frame, error) {
	var (
		frame   Frame
		data    bytes.Buffer
		hasData bool
		started bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && started {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !started {
				continue
			}
			frame.Data = data.Bytes()
			return frame, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		started = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			frame.ID = value
		case "event":
			frame.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}
