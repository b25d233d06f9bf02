package keithley

import (
	"fmt"
	"regexp"
)

var gpibPattern = regexp.MustCompile(`(?i)^GPIB(\d+)::(\d+)::INSTR$`)

// ResourceCandidates returns the VISA resource names to try for the given
// resource, in order. For GPIB resources it also yields the sibling adapter
// index; the common field failure is an adapter enumerated as GPIB1 instead
// of GPIB0 or vice versa.
func ResourceCandidates(resource string) []string {
	candidates := []string{resource}

	m := gpibPattern.FindStringSubmatch(resource)
	if m == nil {
		return candidates
	}

	switch m[1] {
	case "0":
		candidates = append(candidates, fmt.Sprintf("GPIB1::%s::INSTR", m[2]))
	case "1":
		candidates = append(candidates, fmt.Sprintf("GPIB0::%s::INSTR", m[2]))
	}

	return candidates
}
