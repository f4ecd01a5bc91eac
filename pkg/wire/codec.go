package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// crc1Region is the number of header bytes that feed CRC1 — the header
// fields preceding the CRC1 field itself (byte0, seq, length, timestamp).
// CRC1 cannot cover itself, so despite the header totalling HeaderLen (12)
// bytes once CRC1 is included, only these leading 8 bytes are hashed.
const crc1Region = HeaderLen - 4

// packByte0/unpackByte0 follow packet_interface.h's bitfield declaration
// order (window:5; tr:1; type:2), which on a little-endian target packs
// the first-declared field into the low bits: window occupies bits 0-4,
// tr bit 5, type the top two bits 6-7.
func packByte0(window uint8, tr bool, typ Type) byte {
	var trBit byte
	if tr {
		trBit = 1
	}
	return byte(typ&0x3)<<6 | trBit<<5 | byte(window&0x1F)
}

func unpackByte0(b byte) (window uint8, tr bool, typ Type) {
	window = b & 0x1F
	tr = (b>>5)&0x1 == 1
	typ = Type(b >> 6 & 0x3)
	return
}

func crcOf(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Encode validates p against the wire invariants and serializes it,
// computing CRC1 (and CRC2, if a payload is present) in the process.
func Encode(p *Packet) ([]byte, error) {
	if !validType(p.Type) {
		return nil, newErr(ErrType, "%v", p.Type)
	}
	if !validTR(p.Type, p.TR) {
		return nil, newErr(ErrTR, "tr set on non-DATA type %v", p.Type)
	}
	if !validLength(p.Length) {
		return nil, newErr(ErrLength, "%d > %d", p.Length, MaxPayload)
	}
	if !validWindow(p.Window) {
		return nil, newErr(ErrWindow, "%d > %d", p.Window, MaxWindow)
	}
	if p.TR && p.Length != 0 {
		return nil, newErr(ErrUnconsistent, "tr set with non-zero length %d", p.Length)
	}
	if p.Length > 0 && p.Type != TypeData {
		return nil, newErr(ErrUnconsistent, "non-DATA type %v with payload", p.Type)
	}
	if int(p.Length) != len(p.Payload) {
		return nil, newErr(ErrUnconsistent, "length %d != payload bytes %d", p.Length, len(p.Payload))
	}

	buf := make([]byte, p.WireLen())
	buf[0] = packByte0(p.Window, p.TR, p.Type)
	buf[1] = p.Seq
	binary.BigEndian.PutUint16(buf[2:4], p.Length)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)

	// CRC1 is computed with tr forced to 0, over the header bytes preceding
	// the CRC1 field itself.
	crc1Buf := make([]byte, crc1Region)
	copy(crc1Buf, buf[:crc1Region])
	crc1Buf[0] = packByte0(p.Window, false, p.Type)
	p.CRC1 = crcOf(crc1Buf)
	binary.BigEndian.PutUint32(buf[8:12], p.CRC1)

	if p.Length > 0 {
		copy(buf[HeaderLen:HeaderLen+int(p.Length)], p.Payload)
		p.CRC2 = crcOf(p.Payload)
		binary.BigEndian.PutUint32(buf[HeaderLen+int(p.Length):], p.CRC2)
	} else {
		p.CRC2 = 0
	}
	return buf, nil
}

// Decode parses and validates a received wire buffer. Decode errors never
// need to be treated as I/O failures by callers — they indicate the
// datagram should be silently dropped.
func Decode(data []byte) (*Packet, error) {
	rlen := len(data)
	if rlen < HeaderLen {
		return nil, newErr(ErrNoHeader, "%d < %d", rlen, HeaderLen)
	}

	window, tr, typ := unpackByte0(data[0])
	seq := data[1]
	length := binary.BigEndian.Uint16(data[2:4])
	timestamp := binary.BigEndian.Uint32(data[4:8])
	crc1 := binary.BigEndian.Uint32(data[8:12])

	if !validType(typ) {
		return nil, newErr(ErrType, "%d", typ)
	}
	if !validTR(typ, tr) {
		return nil, newErr(ErrTR, "tr set on non-DATA type %v", typ)
	}
	if !validLength(length) {
		return nil, newErr(ErrLength, "%d > %d", length, MaxPayload)
	}

	crc1Buf := make([]byte, crc1Region)
	copy(crc1Buf, data[:crc1Region])
	crc1Buf[0] = packByte0(window, false, typ)
	if computed := crcOf(crc1Buf); computed != crc1 {
		return nil, newErr(ErrCRC, "crc1 computed %x, found %x", computed, crc1)
	}

	p := &Packet{
		Type:      typ,
		TR:        tr,
		Window:    window,
		Seq:       seq,
		Timestamp: timestamp,
		CRC1:      crc1,
	}

	if rlen == HeaderLen {
		// No payload region: valid for a zero-length DATA packet, and for
		// ACK/NACK (which must never carry a payload).
		if typ == TypeData {
			if tr {
				p.Length = 0
				return p, nil
			}
			if length != 0 {
				return nil, newErr(ErrUnconsistent, "DATA declares length %d but carries no payload region", length)
			}
		} else if length != 0 {
			return nil, newErr(ErrUnconsistent, "%v declares non-zero length %d", typ, length)
		}
		return p, nil
	}

	// A payload region is present: it must hold at least the 4-byte CRC2
	// footer.
	if rlen < HeaderLen+FooterLen {
		return nil, newErr(ErrUnconsistent, "short packet: %d bytes with a payload region", rlen)
	}
	payloadLen := rlen - HeaderLen - FooterLen

	switch typ {
	case TypeData:
		if tr {
			return nil, newErr(ErrUnconsistent, "DATA with tr set carries %d bytes of payload", payloadLen)
		}
		if int(length) != payloadLen {
			return nil, newErr(ErrUnconsistent, "DATA declares length %d, payload region is %d bytes", length, payloadLen)
		}
	default:
		return nil, newErr(ErrUnconsistent, "%v carries %d bytes of payload", typ, payloadLen)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderLen:HeaderLen+payloadLen])
	crc2 := binary.BigEndian.Uint32(data[HeaderLen+payloadLen:])
	if computed := crcOf(payload); computed != crc2 {
		return nil, newErr(ErrCRC, "crc2 computed %x, found %x", computed, crc2)
	}

	p.Length = length
	p.Payload = payload
	p.CRC2 = crc2
	return p, nil
}
