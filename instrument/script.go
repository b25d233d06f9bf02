package instrument

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ScriptPoint is one measurement point of a device-paced sweep: the voltage to
// source and the dwell before the measurement, in seconds.
type ScriptPoint struct {
	Voltage float64
	Dwell   float64
}

// Script is a compiled device-paced sweep. Text is the TSP payload executed by
// real instruments; Points is the structured form so simulated instruments can
// execute the same script without parsing Lua.
type Script struct {
	Channel string
	Points  []ScriptPoint
	Text    string
}

// ErrEmptyBuffer indicates that a device-paced sweep produced no parseable rows.
var ErrEmptyBuffer = errors.New("instrument sweep returned no parseable data")

// CompileSweep builds the TSP script that executes the whole point list on the
// instrument, avoiding host-side timing jitter. Each point sources its voltage,
// dwells, measures once and appends "t,v,i;" to the output line.
func CompileSweep(channel string, points []ScriptPoint) *Script {
	var pts strings.Builder
	for idx, p := range points {
		if idx > 0 {
			pts.WriteByte(',')
		}
		fmt.Fprintf(&pts, "{%.12g,%.9g}", p.Voltage, p.Dwell)
	}

	text := fmt.Sprintf(
		"local pts={ %s }; "+
			"local t=0; "+
			"local out=''; "+
			"for idx,p in ipairs(pts) do "+
			"%s.source.levelv=p[1]; "+
			"delay(p[2]); "+
			"t=t+p[2]; "+
			"local i=%s.measure.i(); "+
			"out=out..string.format('%%.9g,%%.12g,%%.12e;', t, p[1], i); "+
			"end; "+
			"print(out)",
		pts.String(), channel, channel,
	)

	return &Script{
		Channel: channel,
		Points:  points,
		Text:    text,
	}
}

// ParseSweepOutput parses the "t,v,i;" row format printed by a compiled sweep
// script. Malformed rows are skipped; an output with no valid rows is an error.
func ParseSweepOutput(raw string) ([]BufferRow, error) {
	rows := make([]BufferRow, 0, strings.Count(raw, ";"))
	for _, entry := range strings.Split(strings.TrimSpace(raw), ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.SplitN(entry, ",", 3)
		if len(fields) != 3 {
			continue
		}

		t, err1 := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		v, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		i, err3 := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		rows = append(rows, BufferRow{T: t, V: v, I: i})
	}

	if len(rows) == 0 {
		return nil, ErrEmptyBuffer
	}

	return rows, nil
}
