// Package guestagent implements the dispatcher side of the vsock RPC
// wire protocol described in SPEC_FULL.md §4.5/§6: it runs inside the
// microVM, accepts the host's length-prefixed JSON request frames, and
// replies with the corresponding response frame. It is the symmetric
// counterpart of internal/vsockrpc, which implements the host side.
package guestagent

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
)

func writeFrame(w net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader, maxMessageSize int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int(length) > maxMessageSize {
		return nil, fmt.Errorf("request frame of %d bytes exceeds max_message_size %d", length, maxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func decodeRequest(payload []byte) (map[string]any, error) {
	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func encodeResponse(resp map[string]any) ([]byte, error) {
	return json.Marshal(resp)
}
