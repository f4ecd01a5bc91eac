// Package wire implements the on-wire packet format of the reliable
// file-transfer protocol: a fixed 12-byte header, an optional payload of up
// to MaxPayload bytes, and dual CRC32 integrity fields.
package wire

import "fmt"

// Type identifies the three packet kinds carried over the wire.
type Type uint8

const (
	TypeData Type = 1
	TypeACK  Type = 2
	TypeNACK Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeACK:
		return "ACK"
	case TypeNACK:
		return "NACK"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

const (
	// MaxPayload is the largest payload a DATA packet may carry.
	MaxPayload = 512
	// MaxWindow is the largest advertisable window (5-bit field).
	MaxWindow = 31
	// HeaderLen is the fixed wire size of the header, including crc1.
	HeaderLen = 12
	// FooterLen is the wire size of crc2, present iff length > 0.
	FooterLen = 4
	// InitialSeqNum is the sequence number of the handshake DATA packet.
	InitialSeqNum = 0
	// Timestamp is the sentinel value the sender stamps on outgoing DATA
	// packets; the receiver echoes whatever it last saw.
	Timestamp = 0xDEADBEEF
)

// Packet is the host-order representation of a wire packet. CRC1/CRC2 are
// populated by Encode and verified by Decode; callers constructing a packet
// to send do not need to set them.
type Packet struct {
	Type      Type
	TR        bool
	Window    uint8
	Seq       uint8
	Length    uint16
	Timestamp uint32
	CRC1      uint32
	Payload   []byte
	CRC2      uint32
}

// Code enumerates the decode/validation failures a malformed or corrupted
// packet can produce. The zero value is never used as an error; a nil
// *DecodeError means success.
type Code int

const (
	ErrType Code = iota + 1
	ErrTR
	ErrLength
	ErrCRC
	ErrWindow
	ErrSeqnum
	ErrNoMem
	ErrNoHeader
	ErrUnconsistent
)

func (c Code) String() string {
	switch c {
	case ErrType:
		return "E_TYPE"
	case ErrTR:
		return "E_TR"
	case ErrLength:
		return "E_LENGTH"
	case ErrCRC:
		return "E_CRC"
	case ErrWindow:
		return "E_WINDOW"
	case ErrSeqnum:
		return "E_SEQNUM"
	case ErrNoMem:
		return "E_NOMEM"
	case ErrNoHeader:
		return "E_NOHEADER"
	case ErrUnconsistent:
		return "E_UNCONSISTENT"
	default:
		return "E_UNKNOWN"
	}
}

// DecodeError reports why a packet failed to decode or encode.
type DecodeError struct {
	Code Code
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(code Code, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WireLen returns how many bytes Packet occupies on the wire.
func (p *Packet) WireLen() int {
	if p.Length > 0 {
		return HeaderLen + int(p.Length) + FooterLen
	}
	return HeaderLen
}

func validType(t Type) bool {
	return t == TypeData || t == TypeACK || t == TypeNACK
}

func validTR(t Type, tr bool) bool {
	return !tr || t == TypeData
}

func validLength(l uint16) bool {
	return l <= MaxPayload
}

func validWindow(w uint8) bool {
	return w <= MaxWindow
}
