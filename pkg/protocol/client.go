package protocol

// ClientMessage is a message sent from client to server.
type ClientMessage interface {
	Type() MessageType
}

// ConnectUser authenticates a connection. A participant sends its initial
// component and state values; an observer sends neither.
type ConnectUser struct {
	Token      string
	Observer   bool
	Components []ComponentValue
	States     []StateValue
}

// Type implements ClientMessage.
func (*ConnectUser) Type() MessageType { return MessageConnectUser }

// SetUserComponents replaces a participant's targets for the listed
// components and the values of the listed states.
type SetUserComponents struct {
	Components []ComponentValue
	States     []StateValue
}

// Type implements ClientMessage.
func (*SetUserComponents) Type() MessageType { return MessageSetUserComponents }

// Pong answers a Ping.
type Pong struct {
	Pong uint64
}

// Type implements ClientMessage.
func (*Pong) Type() MessageType { return MessagePong }

// ClientCustom carries an application-defined payload to the server.
type ClientCustom struct {
	CustomType uint32
	Contents   string
}

// Type implements ClientMessage.
func (*ClientCustom) Type() MessageType { return MessageClientCustom }

// EncodeClientMessage encodes a client message including its type byte.
func EncodeClientMessage(m ClientMessage) []byte {
	e := NewEncoder()
	EncodeClientMessageTo(e, m)
	return e.Bytes()
}

// EncodeClientMessageTo encodes a client message using the provided encoder.
func EncodeClientMessageTo(e *Encoder, m ClientMessage) {
	e.WriteByte(byte(m.Type()))
	switch msg := m.(type) {
	case *ConnectUser:
		e.WriteString(msg.Token)
		e.WriteBool(msg.Observer)
		encodeComponentValues(e, msg.Components)
		encodeStateValues(e, msg.States)
	case *SetUserComponents:
		encodeComponentValues(e, msg.Components)
		encodeStateValues(e, msg.States)
	case *Pong:
		e.WriteUvarint(msg.Pong)
	case *ClientCustom:
		e.WriteUvarint(uint64(msg.CustomType))
		e.WriteString(msg.Contents)
	}
}

// DecodeClientMessage decodes one client message. Trailing bytes are an error.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	d := NewDecoder(data[1:])

	var (
		m   ClientMessage
		err error
	)
	switch MessageType(data[0]) {
	case MessageConnectUser:
		m, err = decodeConnectUser(d)
	case MessageSetUserComponents:
		m, err = decodeSetUserComponents(d)
	case MessagePong:
		var v uint64
		v, err = d.ReadUvarint()
		m = &Pong{Pong: v}
	case MessageClientCustom:
		m, err = decodeClientCustom(d)
	default:
		return nil, ErrUnknownMessageType
	}
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeConnectUser(d *Decoder) (*ConnectUser, error) {
	token, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	observer, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	components, err := decodeComponentValues(d)
	if err != nil {
		return nil, err
	}
	states, err := decodeStateValues(d)
	if err != nil {
		return nil, err
	}
	return &ConnectUser{
		Token:      token,
		Observer:   observer,
		Components: components,
		States:     states,
	}, nil
}

func decodeSetUserComponents(d *Decoder) (*SetUserComponents, error) {
	components, err := decodeComponentValues(d)
	if err != nil {
		return nil, err
	}
	states, err := decodeStateValues(d)
	if err != nil {
		return nil, err
	}
	return &SetUserComponents{Components: components, States: states}, nil
}

func decodeClientCustom(d *Decoder) (*ClientCustom, error) {
	customType, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	contents, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &ClientCustom{CustomType: customType, Contents: contents}, nil
}
