package ldp

import (
	"encoding/binary"
	"fmt"
)

// addrToUint32 and uint32ToAddr convert between the [4]byte representation
// used in entity structs and the uint32 representation used by wire codecs
// and numeric role comparisons (spec §4.3).
func addrToUint32(a [4]byte) uint32 {
	return binary.BigEndian.Uint32(a[:])
}

func uint32ToAddr(v uint32) [4]byte {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], v)
	return a
}

// FECKey uniquely identifies a Forwarding Equivalence Class: either an IPv4
// prefix or a pseudowire (spec §3 fec_node, §4.5).
type FECKey struct {
	IsPW      bool
	Prefix    [4]byte // IPv4 network, host bits zeroed
	PrefixLen uint8
	PWType    uint16
	PWID      uint32
	PWPeer    uint32 // peer LSR-id, part of the PWid FEC identity (spec §3)
}

func (k FECKey) String() string {
	if k.IsPW {
		return fmt.Sprintf("pwid:%d/type:0x%04x/peer:%d.%d.%d.%d",
			k.PWID, k.PWType, byte(k.PWPeer>>24), byte(k.PWPeer>>16), byte(k.PWPeer>>8), byte(k.PWPeer))
	}
	return fmt.Sprintf("%d.%d.%d.%d/%d", k.Prefix[0], k.Prefix[1], k.Prefix[2], k.Prefix[3], k.PrefixLen)
}

// FECElement is one element decoded from a FEC TLV's value (RFC 5036 §3.4.1,
// RFC 4447 §5.4). A FEC TLV may carry multiple elements on the wire, though
// this implementation (like the original) only ever emits one per message.
type FECElement struct {
	Type      uint8
	Key       FECKey
	Wildcard  bool
	PWInfoLen uint16
	PWIfMTU   uint16 // interface parameter sub-TLV, if present
	PWCWord   bool
	PWIfaceID uint32
}

// EncodeFECPrefix builds a FEC TLV value carrying a single IPv4 prefix
// element (RFC 5036 §3.4.1).
func EncodeFECPrefix(prefix [4]byte, prefixLen uint8) []byte {
	v := make([]byte, 0, 8)
	v = append(v, FECPrefix)
	af := make([]byte, 2)
	binary.BigEndian.PutUint16(af, AFIPv4)
	v = append(v, af...)
	v = append(v, prefixLen)
	nBytes := (int(prefixLen) + 7) / 8
	v = append(v, prefix[:nBytes]...)
	return v
}

// EncodeFECWildcard builds a FEC TLV value carrying the wildcard element
// used by wildcard Label Withdraw/Release (spec §4.4).
func EncodeFECWildcard() []byte {
	return []byte{FECWildcard}
}

// EncodeFECPWid builds a FEC TLV value carrying a PWid element (RFC 4447
// §5.4) with an interface-parameters sub-TLV for MTU and control word.
func EncodeFECPWid(pwType uint16, pwID uint32, cBitSet bool, groupID uint32, ifMTU uint16) []byte {
	v := make([]byte, 0, 16)
	v = append(v, FECPWid)
	typeField := pwType & 0x7FFF
	var cBit uint16
	if cBitSet {
		cBit = 0x8000
	}
	tb := make([]byte, 2)
	binary.BigEndian.PutUint16(tb, typeField|cBit)
	v = append(v, tb...)

	// PW info length placeholder, filled in after we know the tail size.
	v = append(v, 0, 0)

	tail := make([]byte, 0, 16)
	gid := make([]byte, 4)
	binary.BigEndian.PutUint32(gid, groupID)
	tail = append(tail, gid...)

	pidLen := make([]byte, 2)
	binary.BigEndian.PutUint16(pidLen, 4)
	tail = append(tail, pidLen...)
	pid := make([]byte, 4)
	binary.BigEndian.PutUint32(pid, pwID)
	tail = append(tail, pid...)

	if ifMTU != 0 {
		tail = append(tail, 0x01, 4, 0, 0)
		binary.BigEndian.PutUint16(tail[len(tail)-2:], ifMTU)
	}

	binary.BigEndian.PutUint16(v[3:5], uint16(len(tail)))
	v = append(v, tail...)
	return v
}

// DecodeFEC decodes a FEC TLV value into a FECElement. Per the Open Question
// resolution in SPEC_FULL.md §9, an IPv6 prefix element is recognized but
// rejected with StatusUnsupAddr rather than silently mishandled or reported
// as a generic UnknownFEC.
func DecodeFEC(v []byte) (FECElement, error) {
	if len(v) < 1 {
		return FECElement{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: empty fec tlv", ErrBadTLVLength))
	}
	switch v[0] {
	case FECWildcard:
		return FECElement{Type: FECWildcard, Wildcard: true}, nil
	case FECPrefix:
		return decodeFECPrefix(v[1:])
	case FECPWid:
		return decodeFECPWid(v[1:])
	default:
		return FECElement{}, protoErr(StatusUnknownFEC, fmt.Errorf("ldp: unknown fec element type 0x%02x", v[0]))
	}
}

func decodeFECPrefix(v []byte) (FECElement, error) {
	if len(v) < 3 {
		return FECElement{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: prefix fec element too short", ErrBadTLVLength))
	}
	af := binary.BigEndian.Uint16(v[0:2])
	prefixLen := v[2]
	if af == AFIPv6 {
		return FECElement{}, protoErr(StatusUnsupAddr, fmt.Errorf("%w: ipv6 fec elements are decoded but not programmable", ErrUnsupportedAddr))
	}
	if af != AFIPv4 {
		return FECElement{}, protoErr(StatusUnsupAddr, fmt.Errorf("%w: address family %d", ErrUnsupportedAddr, af))
	}
	nBytes := (int(prefixLen) + 7) / 8
	if nBytes > 4 || len(v) < 3+nBytes {
		return FECElement{}, protoErr(StatusBadTLVVal, fmt.Errorf("ldp: prefix fec element length/prefixlen mismatch"))
	}
	var key FECKey
	key.PrefixLen = prefixLen
	copy(key.Prefix[:nBytes], v[3:3+nBytes])
	return FECElement{Type: FECPrefix, Key: key}, nil
}

func decodeFECPWid(v []byte) (FECElement, error) {
	if len(v) < 4 {
		return FECElement{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: pwid fec element too short", ErrBadTLVLength))
	}
	typeField := binary.BigEndian.Uint16(v[0:2])
	infoLen := binary.BigEndian.Uint16(v[2:4])
	el := FECElement{
		Type:      FECPWid,
		PWCWord:   typeField&0x8000 != 0,
		PWInfoLen: infoLen,
	}
	el.Key.IsPW = true
	el.Key.PWType = typeField & 0x7FFF
	if infoLen == 0 {
		// Generalized PWid FEC with no optional parameters — wire-legal, used
		// by wildcard-style withdraws scoped to a single PW type.
		return el, nil
	}
	rest := v[4:]
	if len(rest) < int(infoLen) {
		return FECElement{}, protoErr(StatusBadTLVLen, fmt.Errorf("%w: pwid fec info length exceeds tlv", ErrBadTLVLength))
	}
	rest = rest[:infoLen]
	if len(rest) < 4 {
		return FECElement{}, protoErr(StatusBadTLVVal, fmt.Errorf("ldp: pwid fec element missing group id"))
	}
	rest = rest[4:] // group id, unused here
	if len(rest) < 2 {
		return el, nil
	}
	pwIDLen := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if pwIDLen == 4 && len(rest) >= 4 {
		el.Key.PWID = binary.BigEndian.Uint32(rest[0:4])
		rest = rest[4:]
	}
	// Interface parameter sub-TLVs: type(1) length(1) value, where length
	// counts the two header bytes (EncodeFECPWid writes 0x01, 4, mtu(2)).
	for len(rest) >= 2 {
		subType := rest[0]
		subLen := int(rest[1])
		if subLen < 2 || len(rest) < subLen {
			break
		}
		if subType == 0x01 && subLen >= 4 {
			el.PWIfMTU = binary.BigEndian.Uint16(rest[2:4])
		}
		rest = rest[subLen:]
	}
	return el, nil
}
