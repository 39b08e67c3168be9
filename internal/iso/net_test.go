package iso

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildNETRoundTrip(t *testing.T) {
	loopback := netip.MustParseAddr("192.168.50.1")

	net, err := BuildNET("49", loopback)
	require.NoError(t, err)
	require.Equal(t, Address("49.1921.6805.0001.0001.00"), net)

	got, err := net.Loopback()
	require.NoError(t, err)
	require.Equal(t, loopback, got)
}

func TestBuildNETRejectsIPv6(t *testing.T) {
	_, err := BuildNET("49", netip.MustParseAddr("::1"))
	require.Error(t, err)
}

func TestAreaIDAndSystemID(t *testing.T) {
	net, err := BuildNET("49", netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	require.Equal(t, "49", net.AreaID())
	require.Equal(t, "0100.0000.0005", net.SystemID())
}
