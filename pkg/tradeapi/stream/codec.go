package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// frameChunkSize bounds each write of an outbound frame.
const frameChunkSize = 32 * 1024

// codec encodes control frames and decodes inbound message batches.
type codec interface {
	contentType() string
	messageType() int
	marshal(v any) ([]byte, error)
	unmarshal(data []byte) ([]map[string]any, error)
}

type msgpackCodec struct{}

func (msgpackCodec) contentType() string { return "application/msgpack" }
func (msgpackCodec) messageType() int    { return websocket.BinaryMessage }

func (msgpackCodec) marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) unmarshal(data []byte) ([]map[string]any, error) {
	var msgs []map[string]any
	if err := msgpack.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode msgpack frame: %w", err)
	}
	return msgs, nil
}

type jsonCodec struct{}

func (jsonCodec) contentType() string { return "application/json" }
func (jsonCodec) messageType() int    { return websocket.TextMessage }

func (jsonCodec) marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) unmarshal(data []byte) ([]map[string]any, error) {
	var msgs []map[string]any
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode json frame: %w", err)
	}
	return msgs, nil
}

// writeFrame encodes v and writes it as one websocket message in
// frameChunkSize pieces.
func writeFrame(conn *websocket.Conn, cd codec, v any, timeout time.Duration) error {
	data, err := cd.marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}

	w, err := conn.NextWriter(cd.messageType())
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), frameChunkSize)
		if _, err := w.Write(data[:n]); err != nil {
			_ = w.Close()
			return err
		}
		data = data[n:]
	}
	return w.Close()
}
