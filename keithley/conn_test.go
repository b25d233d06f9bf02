package keithley

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltlab/go-smu/instrument"
)

// fakeSession is a scripted in-memory Session. Writes are recorded; queries
// are answered by the respond function.
type fakeSession struct {
	writes   []string
	queries  []string
	respond  func(cmd string) (string, error)
	writeErr error
	closed   bool
}

func (s *fakeSession) Write(cmd string) error {
	s.writes = append(s.writes, cmd)
	return s.writeErr
}

func (s *fakeSession) Query(cmd string) (string, error) {
	s.queries = append(s.queries, cmd)
	return s.respond(cmd)
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) wrote(cmd string) bool {
	for _, w := range s.writes {
		if w == cmd {
			return true
		}
	}
	return false
}

// newSCPISession fakes a classic 2400-series instrument with an empty error
// queue.
func newSCPISession() *fakeSession {
	s := &fakeSession{}
	s.respond = func(cmd string) (string, error) {
		switch cmd {
		case "*IDN?":
			return "KEITHLEY INSTRUMENTS INC.,MODEL 2400,1234567,C30", nil
		case "SYST:ERR?":
			return `0,"No error"`, nil
		case "MEAS:CURR?":
			return "+1.234000E-06", nil
		default:
			return "", errors.New("unexpected query: " + cmd)
		}
	}
	return s
}

// newTSPSession fakes a 2602-series instrument with an empty error queue.
func newTSPSession() *fakeSession {
	s := &fakeSession{}
	s.respond = func(cmd string) (string, error) {
		switch {
		case cmd == "*IDN?":
			return "Keithley Instruments Inc., Model 2602B, 4028478, 3.2.1", nil
		case cmd == "print(errorqueue.count)":
			return "0.00000e+00", nil
		case strings.HasPrefix(cmd, "print(smua.measure.i())"):
			return "1.500000e-08", nil
		case strings.HasPrefix(cmd, "local pts="):
			return "0.05,0.5,2.5e-07;0.1,1,5e-07;", nil
		default:
			return "", errors.New("unexpected query: " + cmd)
		}
	}
	return s
}

func TestOpen(t *testing.T) {
	require := require.New(t)

	t.Run("Nil Session", func(t *testing.T) {
		_, err := Open(nil)
		require.ErrorIs(err, ErrSessionNil)
	})

	t.Run("SCPI Instrument", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)
		require.Equal(SCPI, conn.Dialect())
		require.Contains(conn.IDN(), "MODEL 2400")

		// safe defaults programmed at open
		require.True(session.wrote("*CLS"))
		require.True(session.wrote("OUTP OFF"))
		require.True(session.wrote("SOUR:VOLT 0"))
		require.True(session.wrote("SENS:CURR:PROT 1E-6"))
	})

	t.Run("TSP Instrument", func(t *testing.T) {
		session := newTSPSession()
		conn, err := Open(session)
		require.NoError(err)
		require.Equal(TSP2600, conn.Dialect())

		require.True(session.wrote("smua.reset()"))
		require.True(session.wrote("smua.source.levelv = 0"))
		require.True(session.wrote("smua.source.output = smua.OUTPUT_OFF"))
	})

	t.Run("Channel Option", func(t *testing.T) {
		session := newTSPSession()
		session.respond = func(cmd string) (string, error) {
			if cmd == "*IDN?" {
				return "KEITHLEY,2602B", nil
			}
			return "0", nil
		}

		_, err := Open(session, WithChannel("smub"))
		require.NoError(err)
		require.True(session.wrote("smub.reset()"))
	})

	t.Run("Identity Fallback", func(t *testing.T) {
		// TSP-only firmware that does not answer *IDN?
		session := &fakeSession{}
		session.respond = func(cmd string) (string, error) {
			switch cmd {
			case "*IDN?":
				return "", errors.New("query unterminated")
			case "print(localnode.model)":
				return "2602B\n", nil
			case "print(errorqueue.count)":
				return "0", nil
			default:
				return "", errors.New("unexpected query: " + cmd)
			}
		}

		conn, err := Open(session)
		require.NoError(err)
		require.Equal(TSP2600, conn.Dialect())
		require.Equal("KEITHLEY,2602B,TSP", conn.IDN())
	})

	t.Run("Unsupported Instrument", func(t *testing.T) {
		session := newSCPISession()
		session.respond = func(cmd string) (string, error) {
			return "AGILENT TECHNOLOGIES,34401A,0,11-5-2", nil
		}

		_, err := Open(session)
		require.ErrorIs(err, ErrUnsupportedInstrument)
	})
}

func TestConnSourceMeasure(t *testing.T) {
	require := require.New(t)

	t.Run("Apply Voltage SCPI", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.NoError(conn.ApplyVoltage(1.5))
		require.True(session.wrote("OUTP ON"))
		require.True(session.wrote("SOUR:VOLT 1.5"))

		// the output enable is issued once
		session.writes = nil
		require.NoError(conn.ApplyVoltage(2))
		require.False(session.wrote("OUTP ON"))
	})

	t.Run("Apply Voltage TSP", func(t *testing.T) {
		session := newTSPSession()
		conn, err := Open(session)
		require.NoError(err)

		require.NoError(conn.ApplyVoltage(0.5))
		require.True(session.wrote("smua.source.output = smua.OUTPUT_ON"))
		require.True(session.wrote("smua.source.levelv = 0.5"))
	})

	t.Run("Voltage Validation", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.ErrorIs(conn.ApplyVoltage(211), instrument.ErrVoltageOutOfRange)
	})

	t.Run("Instrument Error Surfaces", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		session.respond = func(cmd string) (string, error) {
			if cmd == "SYST:ERR?" {
				return `-221,"Settings conflict"`, nil
			}
			return "0", nil
		}
		err = conn.ApplyVoltage(1)
		require.Error(err)
		require.Contains(err.Error(), "Settings conflict")
	})

	t.Run("Read Current", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		i, err := conn.ReadCurrent()
		require.NoError(err)
		require.InDelta(1.234e-06, i, 1e-15)
	})

	t.Run("Read Overflow", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		session.respond = func(cmd string) (string, error) {
			if cmd == "MEAS:CURR?" {
				return "9.910000E+37", nil
			}
			return `0,"No error"`, nil
		}
		_, err = conn.ReadCurrent()
		require.ErrorIs(err, instrument.ErrReadingOverflow)
	})

	t.Run("Set Compliance", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.NoError(conn.SetCompliance(100))
		require.True(session.wrote("SENS:CURR:PROT 0.0001"))

		require.ErrorIs(conn.SetCompliance(0), instrument.ErrComplianceOutOfRange)
	})

	t.Run("Force Zero", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.NoError(conn.ApplyVoltage(5))
		session.writes = nil

		require.NoError(conn.ForceZero())
		require.True(session.wrote("SOUR:VOLT 0"))
		require.True(session.wrote("OUTP OFF"))
	})

	t.Run("Close Zeroes And Releases", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.NoError(conn.Close())
		require.True(session.wrote("SOUR:VOLT 0"))
		require.True(session.closed)
	})
}

func TestConnScripting(t *testing.T) {
	require := require.New(t)

	script := instrument.CompileSweep("smua", []instrument.ScriptPoint{
		{Voltage: 0.5, Dwell: 0.05},
		{Voltage: 1, Dwell: 0.05},
	})

	t.Run("SCPI Rejects Scripts", func(t *testing.T) {
		session := newSCPISession()
		conn, err := Open(session)
		require.NoError(err)

		require.ErrorIs(conn.RunScript(script), ErrScriptNotSupported)
	})

	t.Run("TSP Script Round Trip", func(t *testing.T) {
		session := newTSPSession()
		conn, err := Open(session)
		require.NoError(err)

		_, err = conn.FetchBuffer()
		require.ErrorIs(err, ErrNoBuffer)

		require.NoError(conn.RunScript(script))

		rows, err := conn.FetchBuffer()
		require.NoError(err)
		require.Len(rows, 2)
		require.Equal(instrument.BufferRow{T: 0.1, V: 1, I: 5e-07}, rows[1])

		// the buffer is consumed by the fetch
		_, err = conn.FetchBuffer()
		require.ErrorIs(err, ErrNoBuffer)
	})

	t.Run("TSP Error Queue Drained", func(t *testing.T) {
		session := newTSPSession()
		conn, err := Open(session)
		require.NoError(err)

		queueDrained := 0
		session.respond = func(cmd string) (string, error) {
			switch {
			case cmd == "print(errorqueue.count)":
				return "2", nil
			case strings.HasPrefix(cmd, "code, msg, sev, node = errorqueue.next()"):
				queueDrained++
				return "-286|TSP runtime error|1|1", nil
			default:
				return "", errors.New("unexpected query: " + cmd)
			}
		}

		err = conn.ApplyVoltage(1)
		require.Error(err)
		require.Contains(err.Error(), "TSP runtime error")
		require.Equal(2, queueDrained)
	})
}
