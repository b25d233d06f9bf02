package keithley

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceCandidates(t *testing.T) {
	require := require.New(t)

	t.Run("GPIB0 Adds GPIB1 Sibling", func(t *testing.T) {
		require.Equal(
			[]string{"GPIB0::24::INSTR", "GPIB1::24::INSTR"},
			ResourceCandidates("GPIB0::24::INSTR"),
		)
	})

	t.Run("GPIB1 Adds GPIB0 Sibling", func(t *testing.T) {
		require.Equal(
			[]string{"GPIB1::5::INSTR", "GPIB0::5::INSTR"},
			ResourceCandidates("GPIB1::5::INSTR"),
		)
	})

	t.Run("Other Adapter Indexes Unchanged", func(t *testing.T) {
		require.Equal([]string{"GPIB2::24::INSTR"}, ResourceCandidates("GPIB2::24::INSTR"))
	})

	t.Run("Non-GPIB Resources Unchanged", func(t *testing.T) {
		require.Equal(
			[]string{"TCPIP0::192.168.1.5::inst0::INSTR"},
			ResourceCandidates("TCPIP0::192.168.1.5::inst0::INSTR"),
		)
		require.Equal([]string{"ASRL1::INSTR"}, ResourceCandidates("ASRL1::INSTR"))
	})

	t.Run("Case Insensitive", func(t *testing.T) {
		require.Equal(
			[]string{"gpib0::24::instr", "GPIB1::24::INSTR"},
			ResourceCandidates("gpib0::24::instr"),
		)
	})
}
