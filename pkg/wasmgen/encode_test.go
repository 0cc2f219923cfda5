package wasmgen

import "testing"

func TestEncodeLEB128UnsignedSmallAndMultiByte(t *testing.T) {
	cases := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xE5, 0x8E, 0x26}},
	}
	for _, c := range cases {
		got := encodeLEB128U(c.in)
		if !bytesEqual(got, c.want) {
			t.Errorf("encodeLEB128U(%d) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEncodeLEB128SignedNegativeAndPositive(t *testing.T) {
	cases := []struct {
		in   int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7F}},
		{-128, []byte{0x80, 0x7F}},
		{127, []byte{0xFF, 0x00}},
	}
	for _, c := range cases {
		got := encodeLEB128S(c.in)
		if !bytesEqual(got, c.want) {
			t.Errorf("encodeLEB128S(%d) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEncodeF32AndF64AreLittleEndian(t *testing.T) {
	if got := encodeF32(0); len(got) != 4 {
		t.Fatalf("encodeF32 must produce 4 bytes, got %d", len(got))
	}
	if got := encodeF64(0); len(got) != 8 {
		t.Fatalf("encodeF64 must produce 8 bytes, got %d", len(got))
	}
	// 1.0f32 == 0x3F800000, little-endian low byte first.
	got := encodeF32(1)
	want := []byte{0x00, 0x00, 0x80, 0x3F}
	if !bytesEqual(got, want) {
		t.Errorf("encodeF32(1) = %v, want %v", got, want)
	}
}

func TestEncodeVectorPrefixesCount(t *testing.T) {
	got := encodeVector(2, []byte{0xAA, 0xBB})
	want := []byte{0x02, 0xAA, 0xBB}
	if !bytesEqual(got, want) {
		t.Errorf("encodeVector = %v, want %v", got, want)
	}
}

func TestEncodeStringPrefixesByteLength(t *testing.T) {
	got := encodeString("hi")
	want := []byte{0x02, 'h', 'i'}
	if !bytesEqual(got, want) {
		t.Errorf("encodeString(hi) = %v, want %v", got, want)
	}
}

func TestEncodeSectionOmitsEmptyContents(t *testing.T) {
	if got := encodeSection(secType, nil); got != nil {
		t.Errorf("encodeSection with no contents must be nil, got %v", got)
	}
	got := encodeSection(secType, []byte{0x01})
	want := []byte{secType, 0x01, 0x01}
	if !bytesEqual(got, want) {
		t.Errorf("encodeSection = %v, want %v", got, want)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
