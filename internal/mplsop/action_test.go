package mplsop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPrependsLabel(t *testing.T) {
	stack := NewPush(100).Apply(nil)
	require.Equal(t, []Label{100}, stack)

	stack = NewPush(200).Apply(stack)
	require.Equal(t, []Label{200, 100}, stack)
}

func TestSwapReplacesTopLabel(t *testing.T) {
	stack := []Label{100, 200}
	stack = NewSwap(150).Apply(stack)
	require.Equal(t, []Label{150, 200}, stack)
}

func TestPopRemovesTopLabel(t *testing.T) {
	stack := []Label{100, 200}
	stack = NewPop().Apply(stack)
	require.Equal(t, []Label{200}, stack)
}

func TestCombinedAppliesEachLabelOpInOrder(t *testing.T) {
	combined := NewCombined(NewSwap(300), NewPush(400))
	stack := combined.Apply([]Label{100})
	require.Equal(t, []Label{400, 300}, stack)
}

func TestApplyPanicsOnNonLabelAction(t *testing.T) {
	require.Panics(t, func() { NewForward().Apply(nil) })
}
