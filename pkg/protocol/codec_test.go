package protocol

import (
	"errors"
	"io"
	"math"
	"testing"
)

func TestEncoderDecoder(t *testing.T) {
	e := NewEncoder()

	e.WriteByte(0x42)
	e.WriteUvarint(12345)
	e.WriteSvarint(-9876)
	e.WriteString("hello world")
	e.WriteLenBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	e.WriteBool(true)
	e.WriteBool(false)
	e.WriteSvarints([]int64{0, -1, math.MaxInt64, math.MinInt64})
	e.WriteUvarints([]uint32{0, 7, math.MaxUint32})
	e.WriteLenBytesArray([][]byte{{}, {1, 2, 3}})

	d := NewDecoder(e.Bytes())

	b, err := d.ReadByte()
	if err != nil || b != 0x42 {
		t.Errorf("ReadByte() = %x, %v; want 0x42, nil", b, err)
	}

	uv, err := d.ReadUvarint()
	if err != nil || uv != 12345 {
		t.Errorf("ReadUvarint() = %d, %v; want 12345, nil", uv, err)
	}

	sv, err := d.ReadSvarint()
	if err != nil || sv != -9876 {
		t.Errorf("ReadSvarint() = %d, %v; want -9876, nil", sv, err)
	}

	s, err := d.ReadString()
	if err != nil || s != "hello world" {
		t.Errorf("ReadString() = %q, %v; want \"hello world\", nil", s, err)
	}

	lb, err := d.ReadLenBytes()
	if err != nil || len(lb) != 4 || lb[0] != 0xDE {
		t.Errorf("ReadLenBytes() = %v, %v; want [DE AD BE EF], nil", lb, err)
	}

	bt, err := d.ReadBool()
	if err != nil || bt != true {
		t.Errorf("ReadBool() = %v, %v; want true, nil", bt, err)
	}
	bf, err := d.ReadBool()
	if err != nil || bf != false {
		t.Errorf("ReadBool() = %v, %v; want false, nil", bf, err)
	}

	svs, err := d.ReadSvarints()
	if err != nil || len(svs) != 4 || svs[2] != math.MaxInt64 || svs[3] != math.MinInt64 {
		t.Errorf("ReadSvarints() = %v, %v", svs, err)
	}

	uvs, err := d.ReadUvarints()
	if err != nil || len(uvs) != 3 || uvs[2] != math.MaxUint32 {
		t.Errorf("ReadUvarints() = %v, %v", uvs, err)
	}

	arr, err := d.ReadLenBytesArray()
	if err != nil || len(arr) != 2 || len(arr[0]) != 0 || string(arr[1]) != "\x01\x02\x03" {
		t.Errorf("ReadLenBytesArray() = %v, %v", arr, err)
	}

	if err := d.Finish(); err != nil {
		t.Errorf("Finish() = %v; want nil", err)
	}
}

func TestSvarintZigZag(t *testing.T) {
	tests := []struct {
		value int64
		want  []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x01}},
		{1, []byte{0x02}},
		{-2, []byte{0x03}},
		{8, []byte{0x10}},
		{-64, []byte{0x7F}},
		{64, []byte{0x80, 0x01}},
	}

	for _, tc := range tests {
		e := NewEncoder()
		e.WriteSvarint(tc.value)
		if string(e.Bytes()) != string(tc.want) {
			t.Errorf("WriteSvarint(%d) = %x; want %x", tc.value, e.Bytes(), tc.want)
		}
	}
}

func TestSvarintExtremes(t *testing.T) {
	for _, v := range []int64{math.MaxInt64, math.MinInt64, math.MaxInt64 - 1, math.MinInt64 + 1} {
		e := NewEncoder()
		e.WriteSvarint(v)
		got, err := NewDecoder(e.Bytes()).ReadSvarint()
		if err != nil || got != v {
			t.Errorf("svarint %d decoded as %d, %v", v, got, err)
		}
	}
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(d *Decoder) error
		want error
	}{
		{
			name: "truncated_varint",
			data: []byte{0x80},
			read: func(d *Decoder) error { _, err := d.ReadUvarint(); return err },
			want: io.ErrUnexpectedEOF,
		},
		{
			name: "varint_overflow",
			data: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01},
			read: func(d *Decoder) error { _, err := d.ReadUvarint(); return err },
			want: ErrVarintOverflow,
		},
		{
			name: "id_out_of_range",
			data: []byte{0x80, 0x80, 0x80, 0x80, 0x10},
			read: func(d *Decoder) error { _, err := d.ReadUint32(); return err },
			want: ErrIDOutOfRange,
		},
		{
			name: "length_past_end",
			data: []byte{0x05, 0x01},
			read: func(d *Decoder) error { _, err := d.ReadLenBytes(); return err },
			want: io.ErrUnexpectedEOF,
		},
		{
			name: "collection_too_large",
			data: []byte{0xFF, 0xFF, 0xFF, 0x7F},
			read: func(d *Decoder) error { _, err := d.ReadCollectionCount(); return err },
			want: ErrCollectionTooLarge,
		},
		{
			name: "collection_past_end",
			data: []byte{0x03, 0x00},
			read: func(d *Decoder) error { _, err := d.ReadSvarints(); return err },
			want: io.ErrUnexpectedEOF,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(NewDecoder(tc.data))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v; want %v", err, tc.want)
			}
		})
	}
}

func TestReadLenBytesCopies(t *testing.T) {
	buf := []byte{0x02, 0xAA, 0xBB}
	got, err := NewDecoder(buf).ReadLenBytes()
	if err != nil {
		t.Fatalf("ReadLenBytes() error: %v", err)
	}
	buf[1] = 0x00
	if got[0] != 0xAA {
		t.Error("ReadLenBytes() result aliases the input buffer")
	}
}

func TestEncoderReset(t *testing.T) {
	e := NewEncoderWithCap(4)
	e.WriteString("abc")
	e.Reset()
	if e.Len() != 0 {
		t.Errorf("Len() after Reset = %d; want 0", e.Len())
	}
}
