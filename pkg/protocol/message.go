package protocol

import (
	"errors"
	"fmt"
)

// MessageType is the first byte of every wire message.
type MessageType uint8

// Server to client message types.
const (
	MessageInitialCheckout MessageType = 1
	MessageServerCustom    MessageType = 2
	MessageUserIndex       MessageType = 3
	MessageTick            MessageType = 4
	MessagePing            MessageType = 5
	MessageError           MessageType = 6
)

// Client to server message types.
const (
	MessageConnectUser       MessageType = 64
	MessageSetUserComponents MessageType = 65
	MessagePong              MessageType = 66
	MessageClientCustom      MessageType = 67
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageInitialCheckout:
		return "InitialCheckout"
	case MessageServerCustom:
		return "ServerCustom"
	case MessageUserIndex:
		return "UserIndex"
	case MessageTick:
		return "Tick"
	case MessagePing:
		return "Ping"
	case MessageError:
		return "Error"
	case MessageConnectUser:
		return "ConnectUser"
	case MessageSetUserComponents:
		return "SetUserComponents"
	case MessagePong:
		return "Pong"
	case MessageClientCustom:
		return "ClientCustom"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(mt))
	}
}

// Decoding errors specific to message dispatch.
var (
	ErrEmptyMessage       = errors.New("protocol: empty message")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// ComponentValue is one (componentId, value) pair sent by a client.
type ComponentValue struct {
	ID    uint32
	Value int64
}

// StateValue is one (stateId, bytes) pair sent by a client.
type StateValue struct {
	ID    uint32
	Value []byte
}

func encodeComponentValues(e *Encoder, cs []ComponentValue) {
	e.WriteUvarint(uint64(len(cs)))
	for _, c := range cs {
		e.WriteUvarint(uint64(c.ID))
		e.WriteSvarint(c.Value)
	}
}

func decodeComponentValues(d *Decoder) ([]ComponentValue, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	cs := make([]ComponentValue, count)
	for i := range cs {
		if cs[i].ID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		if cs[i].Value, err = d.ReadSvarint(); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func encodeStateValues(e *Encoder, ss []StateValue) {
	e.WriteUvarint(uint64(len(ss)))
	for _, s := range ss {
		e.WriteUvarint(uint64(s.ID))
		e.WriteLenBytes(s.Value)
	}
}

func decodeStateValues(d *Decoder) ([]StateValue, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ss := make([]StateValue, count)
	for i := range ss {
		if ss[i].ID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		if ss[i].Value, err = d.ReadLenBytes(); err != nil {
			return nil, err
		}
	}
	return ss, nil
}
