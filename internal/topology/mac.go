package topology

import (
	"crypto/rand"
	"fmt"
)

// MAC is a 48-bit hardware address.
type MAC [6]byte

// Broadcast is the layer-2 broadcast address.
var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// randomMAC generates a locally-administered, unicast MAC address.
func randomMAC() MAC {
	var m MAC
	if _, err := rand.Read(m[:]); err != nil {
		panic(fmt.Sprintf("topology: crypto/rand unavailable: %v", err))
	}
	m[0] &^= 0x01 // clear multicast bit
	m[0] |= 0x02  // set locally-administered bit
	return m
}
