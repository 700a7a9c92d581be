// Package ldp implements the core of an LDP (RFC 5036) label distribution
// daemon: discovery, session establishment, the label decision engine, and
// RFC 4447 pseudowire signaling.
package ldp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 5036 Section 3
// -------------------------------------------------------------------------

// Version is the LDP protocol version carried in every PDU header.
const Version uint16 = 1

// HeaderSize is the fixed LDP header size in bytes: version(2) + pdu
// length(2) + lsr-id(4) + label-space(2).
const HeaderSize = 10

// MessageHeaderSize is the fixed per-message header size in bytes:
// type(2) + length(2) + message-id(4).
const MessageHeaderSize = 8

// TLVHeaderSize is the fixed per-TLV header size in bytes: type(2) + length(2).
const TLVHeaderSize = 4

// InitialMaxPDULen is the maximum PDU length before Initialization has
// negotiated a larger value (spec §4.2).
const InitialMaxPDULen = 4096

// MinMaxPDULen is the floor applied to the negotiated max PDU length.
const MinMaxPDULen = 4096

// MaxPacketSize bounds a single read/allocation; generous over any legal
// max-PDU negotiation.
const MaxPacketSize = 65536

// DiscoveryPort is the well-known UDP port for LDP hellos (RFC 5036 §2.4.1).
const DiscoveryPort = 646

// SessionPort is the well-known TCP port for LDP sessions.
const SessionPort = 646

// DiscoveryGroup is the all-routers-on-this-subnet multicast address used
// for link hellos.
const DiscoveryGroup = "224.0.0.2"

// -------------------------------------------------------------------------
// Message Types — spec §6
// -------------------------------------------------------------------------

type MessageType uint16

const (
	MsgNotification    MessageType = 0x0001
	MsgHello           MessageType = 0x0100
	MsgInitialization  MessageType = 0x0200
	MsgKeepAlive       MessageType = 0x0201
	MsgAddress         MessageType = 0x0300
	MsgAddressWithdraw MessageType = 0x0301
	MsgLabelMapping    MessageType = 0x0400
	MsgLabelRequest    MessageType = 0x0401
	MsgLabelWithdraw   MessageType = 0x0402
	MsgLabelRelease    MessageType = 0x0403
	MsgLabelAbortReq   MessageType = 0x0404
)

// uBit is the high bit of a TLV or message type: unknown-flag.
const uBit uint16 = 0x8000

func (t MessageType) String() string {
	switch t &^ MessageType(uBit) {
	case MsgNotification:
		return "Notification"
	case MsgHello:
		return "Hello"
	case MsgInitialization:
		return "Initialization"
	case MsgKeepAlive:
		return "KeepAlive"
	case MsgAddress:
		return "Address"
	case MsgAddressWithdraw:
		return "AddressWithdraw"
	case MsgLabelMapping:
		return "LabelMapping"
	case MsgLabelRequest:
		return "LabelRequest"
	case MsgLabelWithdraw:
		return "LabelWithdraw"
	case MsgLabelRelease:
		return "LabelRelease"
	case MsgLabelAbortReq:
		return "LabelAbortRequest"
	default:
		return fmt.Sprintf("Unknown(0x%04x)", uint16(t))
	}
}

// -------------------------------------------------------------------------
// TLV Types — spec §6
// -------------------------------------------------------------------------

type TLVType uint16

const (
	TLVCommonHello    TLVType = 0x0400
	TLVIPv4Transport  TLVType = 0x0401
	TLVCommonSession  TLVType = 0x0500
	TLVFEC            TLVType = 0x0100
	TLVGenericLabel   TLVType = 0x0200
	TLVStatus         TLVType = 0x0300
	TLVLabelRequestID TLVType = 0x0301
)

// Hello common-parameters flag bits (spec §6).
const (
	HelloFlagT uint16 = 0x8000 // targeted
	HelloFlagR uint16 = 0x4000 // request targeted hellos in return
)

// FEC element types (spec §4.4/§4.5).
const (
	FECWildcard uint8 = 0x01
	FECPrefix   uint8 = 0x02
	FECPWid     uint8 = 0x80
)

// Address family numbers used inside the FEC prefix element (IANA AFI).
const (
	AFIPv4 uint16 = 1
	AFIPv6 uint16 = 2
)

// -------------------------------------------------------------------------
// Status Codes — spec §7
// -------------------------------------------------------------------------

type StatusCode uint32

const statusFatalBit StatusCode = 1 << 31

const (
	StatusSuccess        StatusCode = 0x00000000
	StatusBadLDPID       StatusCode = 0x00000001
	StatusBadProtoVer    StatusCode = 0x00000002
	StatusBadPDULen      StatusCode = 0x00000003
	StatusUnknownMsg     StatusCode = 0x00000004
	StatusBadTLVLen      StatusCode = 0x00000005
	StatusMalformedTLV   StatusCode = 0x00000006
	StatusUnknownTLV     StatusCode = 0x00000007
	StatusBadTLVVal      StatusCode = 0x00000008
	StatusHoldTimerExp   StatusCode = 0x00000009
	StatusShutdown       StatusCode = 0x0000000A
	StatusLoopDetected   StatusCode = 0x0000000B
	StatusUnknownFEC     StatusCode = 0x0000000C
	StatusNoRoute        StatusCode = 0x0000000D
	StatusNoLabelRes     StatusCode = 0x0000000E
	StatusAvailable      StatusCode = 0x0000000F
	StatusSessionRej     StatusCode = 0x00000010
	StatusKeepaliveTmr   StatusCode = 0x00000011
	StatusLabelReqAbort  StatusCode = 0x00000012
	StatusMissingMsgParm StatusCode = 0x00000013
	StatusUnsupAddr      StatusCode = 0x00000014
	StatusWrongCword     StatusCode = 0x00000015
	StatusWrongIfParam   StatusCode = 0x00000016
	StatusNoHello        StatusCode = 0x00000017
)

// WithFatal returns the status code with the fatal bit set.
func (s StatusCode) WithFatal() StatusCode { return s | statusFatalBit }

// Fatal reports whether the status code's top bit is set.
func (s StatusCode) Fatal() bool { return s&statusFatalBit != 0 }

// Value returns the 31-bit status value with the fatal bit stripped.
func (s StatusCode) Value() StatusCode { return s &^ statusFatalBit }

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	ErrPacketTooShort   = errors.New("ldp: packet shorter than header")
	ErrBadVersion       = errors.New("ldp: unsupported protocol version")
	ErrBadPDULength     = errors.New("ldp: pdu length out of range")
	ErrBadLSRID         = errors.New("ldp: lsr-id does not match expected peer")
	ErrBadMessageLength = errors.New("ldp: message length exceeds pdu")
	ErrBadTLVLength     = errors.New("ldp: tlv length exceeds remaining bytes")
	ErrBufTooSmall      = errors.New("ldp: destination buffer too small")
	ErrUnsupportedAddr  = errors.New("ldp: unsupported address family")
)

// ProtocolError wraps a wire-format violation together with the Notification
// status code the receiver must send in response (spec §7 taxon 1).
type ProtocolError struct {
	Status StatusCode
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ldp protocol error (status=0x%08x fatal=%t): %v", uint32(e.Status.Value()), e.Status.Fatal(), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(status StatusCode, err error) *ProtocolError {
	return &ProtocolError{Status: status, Err: err}
}

// -------------------------------------------------------------------------
// Header — RFC 5036 §3.5.1
// -------------------------------------------------------------------------

// Header is the fixed LDP PDU header.
type Header struct {
	Version   uint16
	PDULength uint16 // excludes Version and PDULength fields themselves
	LSRID     uint32
	LabelSpace uint16
}

// MarshalHeader writes h into buf, which must be at least HeaderSize bytes.
func MarshalHeader(h *Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("marshal ldp header: %w", ErrBufTooSmall)
	}
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.PDULength)
	binary.BigEndian.PutUint32(buf[4:8], h.LSRID)
	binary.BigEndian.PutUint16(buf[8:10], h.LabelSpace)
	return nil
}

// UnmarshalHeader decodes the fixed header from buf.
func UnmarshalHeader(buf []byte, h *Header) error {
	if len(buf) < HeaderSize {
		return protoErr(StatusBadPDULen.WithFatal(), fmt.Errorf("%w: got %d bytes", ErrPacketTooShort, len(buf)))
	}
	h.Version = binary.BigEndian.Uint16(buf[0:2])
	h.PDULength = binary.BigEndian.Uint16(buf[2:4])
	h.LSRID = binary.BigEndian.Uint32(buf[4:8])
	h.LabelSpace = binary.BigEndian.Uint16(buf[8:10])
	if h.Version != Version {
		return protoErr(StatusBadProtoVer.WithFatal(), fmt.Errorf("%w: got %d", ErrBadVersion, h.Version))
	}
	return nil
}

// -------------------------------------------------------------------------
// TLV — RFC 5036 §3.3
// -------------------------------------------------------------------------

// TLV is a decoded type-length-value record. Value references the original
// buffer (zero-copy); callers needing to retain it past buffer reuse must copy.
type TLV struct {
	Type  TLVType
	UBit  bool
	FBit  bool
	Value []byte
}

// rawTypeBits. Per RFC 5036 §3.3 the top bit (U) is unknown-flag and the
// second-highest bit (F) is forward-if-unknown (meaningful only when U is
// set); the low 14 bits are the TLV type.
const (
	tlvUBitMask    uint16 = 0x8000
	tlvFBitMask    uint16 = 0x4000
	tlvTypeMask    uint16 = 0x3FFF
)

// EncodeTLV appends a TLV (type, value) to buf and returns the result.
func EncodeTLV(buf []byte, typ TLVType, uBitSet bool, value []byte) []byte {
	rawType := uint16(typ) & tlvTypeMask
	if uBitSet {
		rawType |= tlvUBitMask
	}
	hdr := make([]byte, TLVHeaderSize)
	binary.BigEndian.PutUint16(hdr[0:2], rawType)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	buf = append(buf, hdr...)
	buf = append(buf, value...)
	return buf
}

// DecodeTLVs walks buf and returns every TLV found. Per the resolved Open
// Question in SPEC_FULL.md §9, a TLV's declared length must only satisfy
// tlvLen <= remaining (not strict equality), relying on the U-bit for
// forward compatibility with unrecognized trailing data.
func DecodeTLVs(buf []byte) ([]TLV, error) {
	var out []TLV
	for len(buf) > 0 {
		if len(buf) < TLVHeaderSize {
			return nil, protoErr(StatusBadTLVLen, fmt.Errorf("%w: %d bytes left", ErrBadTLVLength, len(buf)))
		}
		rawType := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		remaining := buf[TLVHeaderSize:]
		if int(length) > len(remaining) {
			return nil, protoErr(StatusBadTLVLen, fmt.Errorf("%w: declared %d, have %d", ErrBadTLVLength, length, len(remaining)))
		}
		out = append(out, TLV{
			Type:  TLVType(rawType & tlvTypeMask),
			UBit:  rawType&tlvUBitMask != 0,
			FBit:  rawType&tlvFBitMask != 0,
			Value: remaining[:length],
		})
		buf = remaining[length:]
	}
	return out, nil
}

// -------------------------------------------------------------------------
// Message — RFC 5036 §3.4
// -------------------------------------------------------------------------

// Message is a decoded LDP message: type, message-id, and its TLVs.
type Message struct {
	Type  MessageType
	UBit  bool
	ID    uint32
	TLVs  []TLV
	Raw   []byte // TLV payload, undecoded (zero-copy)
}

// EncodeMessage appends a fully framed message (header + tlvPayload) to buf.
func EncodeMessage(buf []byte, typ MessageType, id uint32, tlvPayload []byte) []byte {
	rawType := uint16(typ) & tlvTypeMask
	hdr := make([]byte, MessageHeaderSize)
	binary.BigEndian.PutUint16(hdr[0:2], rawType)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(tlvPayload)+4)) // +4 for msg-id
	binary.BigEndian.PutUint32(hdr[4:8], id)
	buf = append(buf, hdr...)
	buf = append(buf, tlvPayload...)
	return buf
}

// DecodeMessages walks a PDU's message stream (the bytes following the
// header). Each message's declared length is validated against the bytes
// actually remaining in the PDU (spec §4.2 decoder contract).
func DecodeMessages(buf []byte) ([]Message, error) {
	var out []Message
	for len(buf) > 0 {
		if len(buf) < MessageHeaderSize {
			return nil, protoErr(StatusBadPDULen.WithFatal(), fmt.Errorf("%w: %d bytes left", ErrBadMessageLength, len(buf)))
		}
		rawType := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		id := binary.BigEndian.Uint32(buf[4:8])
		body := buf[MessageHeaderSize:]
		if int(length) < 4 || int(length)-4 > len(body) {
			return nil, protoErr(StatusBadPDULen.WithFatal(), fmt.Errorf("%w: declared %d, have %d", ErrBadMessageLength, length, len(body)))
		}
		tlvPayload := body[:int(length)-4]
		tlvs, err := DecodeTLVs(tlvPayload)
		if err != nil {
			return nil, err
		}
		msgType := MessageType(rawType & tlvTypeMask)
		out = append(out, Message{
			Type: msgType,
			UBit: rawType&tlvUBitMask != 0,
			ID:   id,
			TLVs: tlvs,
			Raw:  tlvPayload,
		})
		buf = body[int(length)-4:]
	}
	return out, nil
}

// -------------------------------------------------------------------------
// PDU — assembling/parsing full datagrams and TCP segments
// -------------------------------------------------------------------------

// PDU is a decoded LDP header plus its messages.
type PDU struct {
	Header   Header
	Messages []Message
}

// DecodePDU decodes exactly one PDU from buf. buf must contain at least
// HeaderSize + Header.PDULength-6 bytes (the -6 accounts for lsr-id(4) +
// label-space(2), which are included in PDULength but not in Version/Length).
//
// expectedLSRID, when non-zero, enforces spec §4.2's "LSR-id != the expected
// peer identity... triggers session shutdown" rule; pass 0 before the peer
// identity is known (e.g., the first PDU of a session, or discovery hellos).
func DecodePDU(buf []byte, expectedLSRID uint32) (*PDU, int, error) {
	var h Header
	if err := UnmarshalHeader(buf, &h); err != nil {
		return nil, 0, err
	}
	if h.PDULength < 6 {
		return nil, 0, protoErr(StatusBadPDULen.WithFatal(), fmt.Errorf("%w: %d", ErrBadPDULength, h.PDULength))
	}
	total := 4 + int(h.PDULength) // Version+Length fields are the other 4 bytes of HeaderSize
	if total < HeaderSize {
		return nil, 0, protoErr(StatusBadPDULen.WithFatal(), fmt.Errorf("%w: %d", ErrBadPDULength, h.PDULength))
	}
	if total > len(buf) {
		// Not enough data buffered yet; caller should wait for more bytes.
		return nil, 0, errInsufficientData
	}
	if expectedLSRID != 0 && h.LSRID != expectedLSRID {
		return nil, 0, protoErr(StatusBadLDPID.WithFatal(), fmt.Errorf("%w: got %08x want %08x", ErrBadLSRID, h.LSRID, expectedLSRID))
	}
	msgs, err := DecodeMessages(buf[HeaderSize:total])
	if err != nil {
		return nil, 0, err
	}
	return &PDU{Header: h, Messages: msgs}, total, nil
}

// errInsufficientData signals the stream reader to wait for more bytes; it
// is never returned across a package boundary as a protocol violation.
var errInsufficientData = errors.New("ldp: insufficient data for one pdu")

// IsInsufficientData reports whether err indicates the decoder needs more
// bytes (not a protocol violation).
func IsInsufficientData(err error) bool { return errors.Is(err, errInsufficientData) }

// EncodePDU renders a complete PDU (header + already-framed messages) to a
// freshly allocated slice.
func EncodePDU(lsrID uint32, labelSpace uint16, messages []byte) []byte {
	pduLen := 6 + len(messages) // lsr-id(4) + label-space(2) + messages
	buf := make([]byte, 0, HeaderSize+len(messages))
	hdr := Header{Version: Version, PDULength: uint16(pduLen), LSRID: lsrID, LabelSpace: labelSpace}
	hdrBuf := make([]byte, HeaderSize)
	_ = MarshalHeader(&hdr, hdrBuf)
	buf = append(buf, hdrBuf...)
	buf = append(buf, messages...)
	return buf
}

// -------------------------------------------------------------------------
// PacketPool — zero-allocation buffer reuse, mirrors the teacher's pattern.
// -------------------------------------------------------------------------

// PacketPool provides reusable receive buffers sized for the largest legal
// negotiated PDU.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}

// -------------------------------------------------------------------------
// Common TLV helpers
// -------------------------------------------------------------------------

// CommonHelloParams is the decoded value of a Common Hello Parameters TLV.
type CommonHelloParams struct {
	HoldTime uint16
	Targeted bool
	Request  bool
}

func EncodeCommonHello(p CommonHelloParams) []byte {
	var flags uint16
	if p.Targeted {
		flags |= HelloFlagT
	}
	if p.Request {
		flags |= HelloFlagR
	}
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], p.HoldTime)
	binary.BigEndian.PutUint16(v[2:4], flags)
	return v
}

func DecodeCommonHello(v []byte) (CommonHelloParams, error) {
	if len(v) < 4 {
		return CommonHelloParams{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: common hello tlv too short", ErrBadTLVLength))
	}
	hold := binary.BigEndian.Uint16(v[0:2])
	flags := binary.BigEndian.Uint16(v[2:4])
	return CommonHelloParams{
		HoldTime: hold,
		Targeted: flags&HelloFlagT != 0,
		Request:  flags&HelloFlagR != 0,
	}, nil
}

// EncodeIPv4Transport encodes the IPv4 Transport Address TLV value.
func EncodeIPv4Transport(addr uint32) []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, addr)
	return v
}

func DecodeIPv4Transport(v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, protoErr(StatusBadTLVLen, fmt.Errorf("%w: ipv4 transport tlv too short", ErrBadTLVLength))
	}
	return binary.BigEndian.Uint32(v[0:4]), nil
}

// CommonSessionParams is the decoded Common Session Parameters TLV value
// (RFC 5036 §3.5.3).
type CommonSessionParams struct {
	ProtoVersion   uint16
	KeepAlive      uint16
	AdvertiseOnDemand bool
	LoopDetection  bool
	PathVectorLimit uint8
	MaxPDULen      uint16
	ReceiverLSRID  uint32
	ReceiverLabelSpace uint16
}

func EncodeCommonSession(p CommonSessionParams) []byte {
	v := make([]byte, 14)
	binary.BigEndian.PutUint16(v[0:2], p.ProtoVersion)
	binary.BigEndian.PutUint16(v[2:4], p.KeepAlive)
	var flagsAndPVL uint16
	if p.AdvertiseOnDemand {
		flagsAndPVL |= 0x8000
	}
	if p.LoopDetection {
		flagsAndPVL |= 0x4000
	}
	flagsAndPVL |= uint16(p.PathVectorLimit)
	binary.BigEndian.PutUint16(v[4:6], flagsAndPVL)
	binary.BigEndian.PutUint16(v[6:8], p.MaxPDULen)
	binary.BigEndian.PutUint32(v[8:12], p.ReceiverLSRID)
	binary.BigEndian.PutUint16(v[12:14], p.ReceiverLabelSpace)
	return v
}

func DecodeCommonSession(v []byte) (CommonSessionParams, error) {
	if len(v) < 14 {
		return CommonSessionParams{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: common session tlv too short", ErrBadTLVLength))
	}
	flagsAndPVL := binary.BigEndian.Uint16(v[4:6])
	return CommonSessionParams{
		ProtoVersion:      binary.BigEndian.Uint16(v[0:2]),
		KeepAlive:         binary.BigEndian.Uint16(v[2:4]),
		AdvertiseOnDemand: flagsAndPVL&0x8000 != 0,
		LoopDetection:     flagsAndPVL&0x4000 != 0,
		PathVectorLimit:   uint8(flagsAndPVL & 0xFF),
		MaxPDULen:         binary.BigEndian.Uint16(v[6:8]),
		ReceiverLSRID:     binary.BigEndian.Uint32(v[8:12]),
		ReceiverLabelSpace: binary.BigEndian.Uint16(v[12:14]),
	}, nil
}

// EncodeGenericLabel encodes a Generic Label TLV value.
func EncodeGenericLabel(label uint32) []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, label&0x000FFFFF)
	return v
}

func DecodeGenericLabel(v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, protoErr(StatusBadTLVLen, fmt.Errorf("%w: generic label tlv too short", ErrBadTLVLength))
	}
	return binary.BigEndian.Uint32(v) & 0x000FFFFF, nil
}

// StatusValue is the decoded Status TLV value (RFC 5036 §3.4.6.1).
type StatusValue struct {
	Status  StatusCode
	MsgID   uint32
	MsgType MessageType
}

func EncodeStatus(s StatusValue) []byte {
	v := make([]byte, 10)
	binary.BigEndian.PutUint32(v[0:4], uint32(s.Status))
	binary.BigEndian.PutUint32(v[4:8], s.MsgID)
	binary.BigEndian.PutUint16(v[8:10], uint16(s.MsgType))
	return v
}

func DecodeStatus(v []byte) (StatusValue, error) {
	if len(v) < 10 {
		return StatusValue{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: status tlv too short", ErrBadTLVLength))
	}
	return StatusValue{
		Status:  StatusCode(binary.BigEndian.Uint32(v[0:4])),
		MsgID:   binary.BigEndian.Uint32(v[4:8]),
		MsgType: MessageType(binary.BigEndian.Uint16(v[8:10])),
	}, nil
}

// BuildNotification assembles a complete Notification message (header+TLV).
func BuildNotification(msgID uint32, status StatusValue) []byte {
	tlv := EncodeTLV(nil, TLVStatus, false, EncodeStatus(status))
	return EncodeMessage(nil, MsgNotification, msgID, tlv)
}

// BuildKeepAlive assembles a complete KeepAlive message.
func BuildKeepAlive(msgID uint32) []byte {
	return EncodeMessage(nil, MsgKeepAlive, msgID, nil)
}
