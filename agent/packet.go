package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types. Each websocket text frame carries one packet
// whose first byte is its type.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

// openPacket is the payload of the Engine.IO handshake.
type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// sioPacket is a decoded Socket.IO packet.
type sioPacket struct {
	Type      byte
	Namespace string
	AckID     int
	Data      json.RawMessage
}

// namespacePrefix returns the "/ns," header for non-default namespaces.
func namespacePrefix(ns string) string {
	if ns == "" || ns == "/" {
		return ""
	}
	return ns + ","
}

func normalizeNamespace(ns string) string {
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return ns
}

// encodeConnect builds the Socket.IO CONNECT message, with auth when token is set.
func encodeConnect(ns, token string) ([]byte, error) {
	msg := []byte{eioMessage, sioConnect}
	msg = append(msg, namespacePrefix(ns)...)
	if token != "" {
		auth, err := json.Marshal(map[string]string{"token": token})
		if err != nil {
			return nil, err
		}
		msg = append(msg, auth...)
	}
	return msg, nil
}

// encodeDisconnect builds the Socket.IO DISCONNECT message.
func encodeDisconnect(ns string) []byte {
	msg := []byte{eioMessage, sioDisconnect}
	return append(msg, namespacePrefix(ns)...)
}

// encodeEvent builds a Socket.IO EVENT message: 42/ns,["name",data].
func encodeEvent(ns, name string, data any) ([]byte, error) {
	body, err := json.Marshal([]any{name, data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	msg := []byte{eioMessage, sioEvent}
	msg = append(msg, namespacePrefix(ns)...)
	return append(msg, body...), nil
}

// decodeSocketIO parses the payload of an Engine.IO message packet.
func decodeSocketIO(b []byte) (sioPacket, error) {
	var p sioPacket
	if len(b) == 0 {
		return p, fmt.Errorf("empty socket.io packet")
	}
	p.Type = b[0]
	if p.Type < sioConnect || p.Type > '6' {
		return p, fmt.Errorf("unknown socket.io packet type %q", p.Type)
	}
	rest := b[1:]

	// Binary attachment count ("51-"); binary events are not supported.
	if p.Type == '5' || p.Type == '6' {
		return p, fmt.Errorf("binary socket.io packets are not supported")
	}

	p.Namespace = "/"
	if len(rest) > 0 && rest[0] == '/' {
		i := 0
		for i < len(rest) && rest[i] != ',' {
			i++
		}
		p.Namespace = string(rest[:i])
		if i < len(rest) {
			i++
		}
		rest = rest[i:]
	}

	p.AckID = -1
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j > 0 {
		id, err := strconv.Atoi(string(rest[:j]))
		if err != nil {
			return p, fmt.Errorf("parse ack id: %w", err)
		}
		p.AckID = id
		rest = rest[j:]
	}
	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// decodeEvent splits an EVENT payload ["name", arg, ...] into the name and
// its first argument.
func decodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("decode event: empty array")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// connectError is the payload of a CONNECT_ERROR packet.
type connectError struct {
	Message string `json:"message"`
}

func decodeConnectError(data json.RawMessage) string {
	var ce connectError
	if err := json.Unmarshal(data, &ce); err == nil && ce.Message != "" {
		return ce.Message
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
