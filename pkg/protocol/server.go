package protocol

// ServerMessage is a message sent from server to client.
type ServerMessage interface {
	Type() MessageType
}

// UserIndex tells a participant which index it occupies.
type UserIndex struct {
	Index uint32
}

// Type implements ServerMessage.
func (*UserIndex) Type() MessageType { return MessageUserIndex }

// ComponentCheckout is the full view of one component: the observable value
// and last emitted delta for every index.
type ComponentCheckout struct {
	ComponentID uint32
	Values      []int64
	Deltas      []int64
}

// StateCheckout is the full view of one state: the value for every index.
type StateCheckout struct {
	StateID uint32
	Values  [][]byte
}

// InitialCheckout is sent to a connection in the tick it joins.
type InitialCheckout struct {
	ServerTime   uint64
	IndicesCount uint32
	Components   []ComponentCheckout
	States       []StateCheckout
}

// Type implements ServerMessage.
func (*InitialCheckout) Type() MessageType { return MessageInitialCheckout }

// ComponentTick carries the delta-deltas of one component for every index.
type ComponentTick struct {
	ComponentID uint32
	DeltaDeltas []int64
}

// IndexedState is one state value at an index.
type IndexedState struct {
	Index uint32
	Value []byte
}

// StateTick carries the states of one id that changed during the tick.
type StateTick struct {
	StateID       uint32
	UpdatedStates []IndexedState
}

// Tick is broadcast once per tick to every previously authenticated connection.
// RemovedIndices refer to the indexing before the tick; everything else to the
// indexing after it.
type Tick struct {
	ServerTime           uint64
	RemovedIndices       []uint32
	IndicesCount         uint32
	ComponentDeltaDeltas []ComponentTick
	States               []StateTick
}

// Type implements ServerMessage.
func (*Tick) Type() MessageType { return MessageTick }

// Ping is a keepalive; clients answer with Pong.
type Ping struct {
	Ping uint64
}

// Type implements ServerMessage.
func (*Ping) Type() MessageType { return MessagePing }

// ServerCustom carries an application-defined payload to clients.
type ServerCustom struct {
	CustomType uint32
	Contents   string
}

// Type implements ServerMessage.
func (*ServerCustom) Type() MessageType { return MessageServerCustom }

// EncodeServerMessage encodes a server message including its type byte.
func EncodeServerMessage(m ServerMessage) []byte {
	e := NewEncoderWithCap(64)
	EncodeServerMessageTo(e, m)
	return e.Bytes()
}

// EncodeServerMessageTo encodes a server message using the provided encoder.
func EncodeServerMessageTo(e *Encoder, m ServerMessage) {
	e.WriteByte(byte(m.Type()))
	switch msg := m.(type) {
	case *UserIndex:
		e.WriteUvarint(uint64(msg.Index))
	case *InitialCheckout:
		encodeInitialCheckout(e, msg)
	case *Tick:
		encodeTick(e, msg)
	case *Ping:
		e.WriteUvarint(msg.Ping)
	case *ServerCustom:
		e.WriteUvarint(uint64(msg.CustomType))
		e.WriteString(msg.Contents)
	case *ErrorMessage:
		EncodeErrorMessageTo(e, msg)
	}
}

func encodeInitialCheckout(e *Encoder, ic *InitialCheckout) {
	e.WriteUvarint(ic.ServerTime)
	e.WriteUvarint(uint64(ic.IndicesCount))
	e.WriteUvarint(uint64(len(ic.Components)))
	for _, c := range ic.Components {
		e.WriteUvarint(uint64(c.ComponentID))
		e.WriteSvarints(c.Values)
		e.WriteSvarints(c.Deltas)
	}
	e.WriteUvarint(uint64(len(ic.States)))
	for _, s := range ic.States {
		e.WriteUvarint(uint64(s.StateID))
		e.WriteLenBytesArray(s.Values)
	}
}

func encodeTick(e *Encoder, t *Tick) {
	e.WriteUvarint(t.ServerTime)
	e.WriteUvarints(t.RemovedIndices)
	e.WriteUvarint(uint64(t.IndicesCount))
	e.WriteUvarint(uint64(len(t.ComponentDeltaDeltas)))
	for _, c := range t.ComponentDeltaDeltas {
		e.WriteUvarint(uint64(c.ComponentID))
		e.WriteSvarints(c.DeltaDeltas)
	}
	e.WriteUvarint(uint64(len(t.States)))
	for _, s := range t.States {
		e.WriteUvarint(uint64(s.StateID))
		e.WriteUvarint(uint64(len(s.UpdatedStates)))
		for _, u := range s.UpdatedStates {
			e.WriteUvarint(uint64(u.Index))
			e.WriteLenBytes(u.Value)
		}
	}
}

// DecodeServerMessage decodes one server message. Clients and tests use it;
// the server itself only encodes.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	d := NewDecoder(data[1:])

	var (
		m   ServerMessage
		err error
	)
	switch MessageType(data[0]) {
	case MessageUserIndex:
		var idx uint32
		idx, err = d.ReadUint32()
		m = &UserIndex{Index: idx}
	case MessageInitialCheckout:
		m, err = decodeInitialCheckout(d)
	case MessageTick:
		m, err = decodeTick(d)
	case MessagePing:
		var v uint64
		v, err = d.ReadUvarint()
		m = &Ping{Ping: v}
	case MessageServerCustom:
		var sc ServerCustom
		if sc.CustomType, err = d.ReadUint32(); err == nil {
			sc.Contents, err = d.ReadString()
		}
		m = &sc
	case MessageError:
		m, err = DecodeErrorMessageFrom(d)
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

func decodeInitialCheckout(d *Decoder) (*InitialCheckout, error) {
	var ic InitialCheckout
	var err error
	if ic.ServerTime, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if ic.IndicesCount, err = d.ReadUint32(); err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	ic.Components = make([]ComponentCheckout, count)
	for i := range ic.Components {
		c := &ic.Components[i]
		if c.ComponentID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		if c.Values, err = d.ReadSvarints(); err != nil {
			return nil, err
		}
		if c.Deltas, err = d.ReadSvarints(); err != nil {
			return nil, err
		}
	}

	count, err = d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	ic.States = make([]StateCheckout, count)
	for i := range ic.States {
		s := &ic.States[i]
		if s.StateID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		if s.Values, err = d.ReadLenBytesArray(); err != nil {
			return nil, err
		}
	}
	return &ic, nil
}

func decodeTick(d *Decoder) (*Tick, error) {
	var t Tick
	var err error
	if t.ServerTime, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if t.RemovedIndices, err = d.ReadUvarints(); err != nil {
		return nil, err
	}
	if t.IndicesCount, err = d.ReadUint32(); err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	t.ComponentDeltaDeltas = make([]ComponentTick, count)
	for i := range t.ComponentDeltaDeltas {
		c := &t.ComponentDeltaDeltas[i]
		if c.ComponentID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		if c.DeltaDeltas, err = d.ReadSvarints(); err != nil {
			return nil, err
		}
	}

	count, err = d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	t.States = make([]StateTick, count)
	for i := range t.States {
		s := &t.States[i]
		if s.StateID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		n, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		s.UpdatedStates = make([]IndexedState, n)
		for j := range s.UpdatedStates {
			u := &s.UpdatedStates[j]
			if u.Index, err = d.ReadUint32(); err != nil {
				return nil, err
			}
			if u.Value, err = d.ReadLenBytes(); err != nil {
				return nil, err
			}
		}
	}
	return &t, nil
}
