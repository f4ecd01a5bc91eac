package wire

import "testing"

func BenchmarkEncode(b *testing.B) {
	p := &Packet{
		Type:      TypeData,
		Window:    16,
		Seq:       1,
		Timestamp: Timestamp,
		Length:    MaxPayload,
		Payload:   make([]byte, MaxPayload),
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	p := &Packet{
		Type:      TypeData,
		Window:    16,
		Seq:       1,
		Timestamp: Timestamp,
		Length:    MaxPayload,
		Payload:   make([]byte, MaxPayload),
	}
	buf, err := Encode(p)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(buf); err != nil {
			b.Fatal(err)
		}
	}
}
