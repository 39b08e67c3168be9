// Package iso builds and parses the simulator's simplified ISO NET
// addresses: area_id.aabb.ccdd.eeff.0001.00, where aabb.ccdd.eeff is the
// loopback IPv4 address's four octets, each zero-padded to three decimal
// digits, concatenated into a 12-digit string and re-split into three
// 4-digit groups.
package iso

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Address is a simplified NSAP/NET address string.
type Address string

// BuildNET derives a NET address from an area id and the router's loopback
// IPv4 address.
func BuildNET(areaID string, loopback netip.Addr) (Address, error) {
	if !loopback.Is4() {
		return "", fmt.Errorf("iso: loopback address must be IPv4, got %s", loopback)
	}
	octets := loopback.As4()

	digits := fmt.Sprintf("%03d%03d%03d%03d", octets[0], octets[1], octets[2], octets[3])
	return Address(fmt.Sprintf("%s.%s.%s.%s.0001.00",
		areaID, digits[0:4], digits[4:8], digits[8:12])), nil
}

// SystemID returns the "aabb.ccdd.eeff" portion that uniquely identifies
// the system, independent of area.
func (a Address) SystemID() string {
	parts := strings.Split(string(a), ".")
	if len(parts) < 5 {
		return ""
	}
	return strings.Join(parts[1:4], ".")
}

// AreaID returns the leading area identifier.
func (a Address) AreaID() string {
	parts := strings.Split(string(a), ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Loopback recovers the loopback IPv4 address encoded in the NET address.
func (a Address) Loopback() (netip.Addr, error) {
	parts := strings.Split(string(a), ".")
	if len(parts) < 4 {
		return netip.Addr{}, fmt.Errorf("iso: malformed NET address %q", a)
	}
	digits := parts[1] + parts[2] + parts[3]
	if len(digits) != 12 {
		return netip.Addr{}, fmt.Errorf("iso: malformed NET address %q", a)
	}

	var octets [4]byte
	for i := range 4 {
		v, err := strconv.Atoi(digits[i*3 : i*3+3])
		if err != nil || v > 255 {
			return netip.Addr{}, fmt.Errorf("iso: malformed NET address %q", a)
		}
		octets[i] = byte(v)
	}
	return netip.AddrFrom4(octets), nil
}

func (a Address) String() string { return string(a) }
