// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"net"
)

// onesComplement computes the RFC 1071 16-bit one's-complement sum over
// the given chunks. All chunks except the last must be of even length,
// otherwise the 16-bit word alignment breaks across chunk boundaries.
// A frame with a valid embedded checksum sums to 0xffff.
func onesComplement(chunks ...[]byte) uint16 {
	var sum uint32
	for _, b := range chunks {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return uint16(sum)
}

// pseudoHeaderV4 builds the 12-byte IPv4 pseudo header used by the UDP
// and TCP checksums.
func pseudoHeaderV4(src, dst net.IP, proto uint8, length int) []byte {
	ph := make([]byte, 12)
	copy(ph[0:4], src.To4())
	copy(ph[4:8], dst.To4())
	ph[9] = proto
	binary.BigEndian.PutUint16(ph[10:12], uint16(length)) // #nosec G115 // bounded by mtu
	return ph
}

// pseudoHeaderV6 builds the 40-byte IPv6 pseudo header. ICMPv6 includes
// it in its checksum as well, unlike ICMPv4.
func pseudoHeaderV6(src, dst net.IP, nextHeader uint8, length int) []byte {
	ph := make([]byte, 40)
	copy(ph[0:16], src.To16())
	copy(ph[16:32], dst.To16())
	binary.BigEndian.PutUint32(ph[32:36], uint32(length)) // #nosec G115 // bounded by mtu
	ph[39] = nextHeader
	return ph
}

// validICMPv4 verifies the checksum of a complete ICMPv4 message.
func validICMPv4(msg []byte) bool {
	return onesComplement(msg) == 0xffff
}

// validICMPv6 verifies the checksum of a complete ICMPv6 message, which
// covers the IPv6 pseudo header.
func validICMPv6(src, dst net.IP, msg []byte) bool {
	return onesComplement(pseudoHeaderV6(src, dst, protoICMPv6, len(msg)), msg) == 0xffff
}

// validTCPv4 verifies the checksum of an inbound IPv4 TCP segment.
func validTCPv4(src, dst net.IP, seg []byte) bool {
	return onesComplement(pseudoHeaderV4(src, dst, protoTCP, len(seg)), seg) == 0xffff
}

// validTCPv6 verifies the checksum of an inbound IPv6 TCP segment.
func validTCPv6(src, dst net.IP, seg []byte) bool {
	return onesComplement(pseudoHeaderV6(src, dst, protoTCP, len(seg)), seg) == 0xffff
}

// IP protocol numbers as they appear in the IPv4 protocol and IPv6 next
// header fields.
const (
	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)
