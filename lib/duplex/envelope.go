// Package duplex implements a bidirectional message channel between a plugin
// process and a host process. One Channel owns one streaming connection:
// outbound envelopes are written through a serialized framer while a single
// receive loop pulls inbound envelopes and dispatches them by name to
// registered handlers.
package duplex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Kind is the direction of one envelope instance.
type Kind uint8

const (
	KindRequest  Kind = 0x01 // expects a response
	KindResponse Kind = 0x02 // response to a request
	KindNotify   Kind = 0x03 // one-way notification
	KindError    Kind = 0x04 // error response to a request
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindNotify:
		return "Notify"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Envelope is one routed unit of communication. An Envelope is immutable once
// constructed; Name is the routing key and must match a registered handler at
// dispatch time.
type Envelope struct {
	Name          string
	CorrelationID string
	Kind          Kind
	ClientID      string
	Payload       []byte
}

// NewRequest creates a Request envelope with a fresh correlation ID.
func NewRequest(name string, payload []byte) *Envelope {
	return &Envelope{
		Name:          name,
		CorrelationID: newCorrelationID(),
		Kind:          KindRequest,
		Payload:       payload,
	}
}

// NewResponse creates the Response envelope for a received request, carrying
// the request's name and correlation ID.
func NewResponse(req *Envelope, payload []byte) *Envelope {
	return &Envelope{
		Name:          req.Name,
		CorrelationID: req.CorrelationID,
		Kind:          KindResponse,
		Payload:       payload,
	}
}

// NewErrorResponse creates an Error envelope answering a received request.
// The payload carries the error description.
func NewErrorResponse(req *Envelope, payload []byte) *Envelope {
	return &Envelope{
		Name:          req.Name,
		CorrelationID: req.CorrelationID,
		Kind:          KindError,
		Payload:       payload,
	}
}

// NewNotify creates a one-way notification envelope.
func NewNotify(name string, payload []byte) *Envelope {
	return &Envelope{
		Name:    name,
		Kind:    KindNotify,
		Payload: payload,
	}
}

// newCorrelationID generates a time-ordered correlation ID.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// MarshalBinary encodes the envelope into binary format.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("envelope name must not be empty")
	}

	var buffer bytes.Buffer

	if err := writeString(&buffer, e.Name); err != nil {
		return nil, fmt.Errorf("failed to write name: %w", err)
	}

	if err := writeString(&buffer, e.CorrelationID); err != nil {
		return nil, fmt.Errorf("failed to write correlation ID: %w", err)
	}

	if err := binary.Write(&buffer, binary.BigEndian, uint8(e.Kind)); err != nil {
		return nil, fmt.Errorf("failed to write kind: %w", err)
	}

	if err := writeString(&buffer, e.ClientID); err != nil {
		return nil, fmt.Errorf("failed to write client ID: %w", err)
	}

	payloadLen := uint32(len(e.Payload))
	if err := binary.Write(&buffer, binary.BigEndian, payloadLen); err != nil {
		return nil, fmt.Errorf("failed to write payload length: %w", err)
	}
	if _, err := buffer.Write(e.Payload); err != nil {
		return nil, fmt.Errorf("failed to write payload: %w", err)
	}

	return buffer.Bytes(), nil
}

// UnmarshalBinary decodes the envelope from binary format.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	buffer := bytes.NewReader(data)

	name, err := readString(buffer)
	if err != nil {
		return fmt.Errorf("failed to read name: %w", err)
	}
	if name == "" {
		return fmt.Errorf("envelope name must not be empty")
	}
	e.Name = name

	correlationID, err := readString(buffer)
	if err != nil {
		return fmt.Errorf("failed to read correlation ID: %w", err)
	}
	e.CorrelationID = correlationID

	var kindByte uint8
	if err := binary.Read(buffer, binary.BigEndian, &kindByte); err != nil {
		return fmt.Errorf("failed to read kind: %w", err)
	}
	e.Kind = Kind(kindByte)

	clientID, err := readString(buffer)
	if err != nil {
		return fmt.Errorf("failed to read client ID: %w", err)
	}
	e.ClientID = clientID

	var payloadLen uint32
	if err := binary.Read(buffer, binary.BigEndian, &payloadLen); err != nil {
		return fmt.Errorf("failed to read payload length: %w", err)
	}
	e.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(buffer, e.Payload); err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	return nil
}

func writeString(buffer *bytes.Buffer, s string) error {
	raw := []byte(s)
	if err := binary.Write(buffer, binary.BigEndian, uint32(len(raw))); err != nil {
		return err
	}
	_, err := buffer.Write(raw)
	return err
}

func readString(buffer *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(buffer, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(buffer, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
