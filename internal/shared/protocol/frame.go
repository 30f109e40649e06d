package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	FrameHeaderSize = 5
	MaxFrameSize    = 10 * 1024 * 1024
)

// Frame is one protocol message: an opcode and its encoded bundle.
// Control and event opcodes share the byte; the direction decides which
// enumeration applies.
type Frame struct {
	Opcode  byte
	Payload []byte
}

// NewControlFrame encodes a control message frame
func NewControlFrame(op ControlOpcode, data Bundle) (*Frame, error) {
	payload, err := EncodeBundle(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Opcode: byte(op), Payload: payload}, nil
}

// NewEventFrame encodes an event message frame
func NewEventFrame(op EventOpcode, data Bundle) (*Frame, error) {
	payload, err := EncodeBundle(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Opcode: byte(op), Payload: payload}, nil
}

// Bundle decodes the frame payload
func (f *Frame) Bundle() (Bundle, error) {
	return DecodeBundle(f.Payload)
}

// MarshalBinary returns header and payload as one buffer, the form used by
// message-oriented transports.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxFrameSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(f.Payload), MaxFrameSize)
	}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(f.Payload)))
	buf[4] = f.Opcode
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// UnmarshalBinary parses a buffer produced by MarshalBinary
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < FrameHeaderSize {
		return fmt.Errorf("frame too short: %d bytes", len(data))
	}
	payloadLen := binary.BigEndian.Uint32(data[0:4])
	if payloadLen > MaxFrameSize {
		return fmt.Errorf("payload too large: %d bytes (max %d)", payloadLen, MaxFrameSize)
	}
	if int(payloadLen) != len(data)-FrameHeaderSize {
		return fmt.Errorf("frame length mismatch: header %d, body %d", payloadLen, len(data)-FrameHeaderSize)
	}
	f.Opcode = data[4]
	f.Payload = nil
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), data[FrameHeaderSize:]...)
	}
	return nil
}

func WriteFrame(w io.Writer, frame *Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	if payloadLen > MaxFrameSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", payloadLen, MaxFrameSize)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
	}

	return &Frame{
		Opcode:  header[4],
		Payload: payload,
	}, nil
}
