package routing

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupIPPrefersLongestPrefix(t *testing.T) {
	tabs, _ := newTestTables(t)

	tabs.AddRoute(&Route{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Kind: Static}, StaticT, "cli")
	tabs.AddRoute(&Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Kind: Isis, Metric: 10}, IsisT, "isis")

	r, ok := tabs.LookupIP(netip.MustParseAddr("10.0.0.5"), Inet)
	require.True(t, ok)
	require.Equal(t, 24, r.Prefix.Bits())
}

func TestLookupIPReturnsFalseOnMiss(t *testing.T) {
	tabs, _ := newTestTables(t)
	_, ok := tabs.LookupIP(netip.MustParseAddr("192.0.2.1"), Inet)
	require.False(t, ok)
}

func TestLookupIPDefaultsToInetChain(t *testing.T) {
	tabs, _ := newTestTables(t)
	tabs.AddRoute(&Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Kind: Static}, StaticT, "cli")

	r, ok := tabs.LookupIP(netip.MustParseAddr("10.0.0.1"), nil)
	require.True(t, ok)
	require.Equal(t, Static, r.Kind)
}

func TestLookupIPReturnsAClone(t *testing.T) {
	tabs, _ := newTestTables(t)
	original := &Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Kind: Static}
	tabs.AddRoute(original, StaticT, "cli")

	r, ok := tabs.LookupIP(netip.MustParseAddr("10.0.0.1"), Inet)
	require.True(t, ok)
	require.NotSame(t, original, r)
	require.Equal(t, original.Kind, r.Kind)
}
