// Package keithley implements the instrument transport contract for
// Keithley-class source-measure units, speaking either classic SCPI or the
// 2600-series TSP dialect over an injected line-oriented session. The package
// formats and parses dialect traffic only; bus I/O (VISA, GPIB, sockets)
// belongs to the Session implementation.
package keithley

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/logger"
)

// Session is a line-oriented command channel to the instrument.
type Session interface {
	// Write sends a command that produces no response.
	Write(cmd string) error
	// Query sends a command and returns its response line.
	Query(cmd string) (string, error)
	// Close releases the session.
	Close() error
}

// Dialect identifies the instrument command language.
type Dialect uint8

const (
	// SCPI is the classic Keithley 2400-style command set.
	SCPI Dialect = iota
	// TSP2600 is the 2600-series Lua scripting command set.
	TSP2600
)

// String returns string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case SCPI:
		return "scpi"
	case TSP2600:
		return "tsp2600"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionNil indicates that a nil Session was provided.
	ErrSessionNil = errors.New("session is nil")

	// ErrUnsupportedInstrument indicates that the connected device does not
	// identify as a supported Keithley SMU.
	ErrUnsupportedInstrument = errors.New("connected device does not look like a supported Keithley SMU")

	// ErrScriptNotSupported indicates a device-paced script on a dialect
	// without instrument-side scripting.
	ErrScriptNotSupported = errors.New("instrument-paced sweep is available only in TSP mode")

	// ErrNoBuffer indicates a FetchBuffer call without a prior RunScript.
	ErrNoBuffer = errors.New("no sweep result buffer available")
)

var floatPattern = regexp.MustCompile(`[+-]?\d+(?:\.\d+)?(?:[Ee][+-]?\d+)?`)

// Conn drives a single source-measure channel through a Session. It
// implements instrument.Instrument.
type Conn struct {
	mu            sync.Mutex
	session       Session
	dialect       Dialect
	channel       string
	idn           string
	outputEnabled bool
	buffer        []instrument.BufferRow
	log           logger.Logger
}

var _ instrument.Instrument = (*Conn)(nil)

// OpenOption customizes an Open call.
type OpenOption func(*Conn)

// WithChannel sets the TSP channel name. The default is "smua".
func WithChannel(channel string) OpenOption {
	return func(c *Conn) {
		if channel != "" {
			c.channel = channel
		}
	}
}

// WithLogger sets the logger instance for transport events.
func WithLogger(l logger.Logger) OpenOption {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// Open identifies the instrument on the session, selects the dialect, and
// programs safe defaults (output off, zero volts, autorange, minimal
// compliance). The session is left untouched on identification failure.
func Open(session Session, opts ...OpenOption) (*Conn, error) {
	if session == nil {
		return nil, ErrSessionNil
	}

	c := &Conn{
		session: session,
		channel: "smua",
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.idn = c.queryIdentity()
	if err := c.validateIdentity(); err != nil {
		return nil, err
	}

	if strings.Contains(strings.ToUpper(c.idn), "2602") {
		c.dialect = TSP2600
	} else {
		c.dialect = SCPI
	}

	var err error
	if c.dialect == TSP2600 {
		err = c.setupTSPDefaults()
	} else {
		err = c.setupSCPIDefaults()
	}
	if err != nil {
		return nil, fmt.Errorf("instrument setup failed: %w", err)
	}

	c.log.Info("instrument connected", "idn", c.idn, "dialect", c.dialect)

	return c, nil
}

// IDN returns the instrument identification string.
func (c *Conn) IDN() string {
	return c.idn
}

// Dialect returns the active command dialect.
func (c *Conn) Dialect() Dialect {
	return c.dialect
}

func (c *Conn) ApplyVoltage(v float64) error {
	if err := instrument.ValidateVoltage(v); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enableOutputLocked(); err != nil {
		return err
	}

	var cmd string
	if c.dialect == TSP2600 {
		cmd = fmt.Sprintf("%s.source.levelv = %g", c.channel, v)
	} else {
		cmd = fmt.Sprintf("SOUR:VOLT %g", v)
	}
	if err := c.session.Write(cmd); err != nil {
		return err
	}

	return c.checkErrorsLocked()
}

func (c *Conn) ReadCurrent() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var raw string
	var err error
	if c.dialect == TSP2600 {
		raw, err = c.session.Query(fmt.Sprintf("print(%s.measure.i())", c.channel))
	} else {
		raw, err = c.session.Query("MEAS:CURR?")
	}
	if err != nil {
		return 0, err
	}

	value, err := extractFirstFloat(raw)
	if err != nil {
		return 0, err
	}

	// Keithley overflow convention for invalid/overrange values.
	if math.Abs(value) >= instrument.OverflowAbs {
		return 0, instrument.ErrReadingOverflow
	}

	return value, nil
}

func (c *Conn) SetCompliance(ua float64) error {
	if err := instrument.ValidateCompliance(ua); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	complianceA := ua * 1e-6
	var cmd string
	if c.dialect == TSP2600 {
		cmd = fmt.Sprintf("%s.source.limiti = %g", c.channel, complianceA)
	} else {
		cmd = fmt.Sprintf("SENS:CURR:PROT %g", complianceA)
	}
	if err := c.session.Write(cmd); err != nil {
		return err
	}
	if err := c.checkErrorsLocked(); err != nil {
		return err
	}

	c.log.Debug("compliance set", "compliance_ua", ua)

	return nil
}

// RunScript executes a compiled sweep script on the instrument and caches its
// parsed result buffer for FetchBuffer.
func (c *Conn) RunScript(script *instrument.Script) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dialect != TSP2600 {
		return ErrScriptNotSupported
	}

	if err := c.enableOutputLocked(); err != nil {
		return err
	}

	raw, err := c.session.Query(script.Text)
	if err != nil {
		return err
	}

	rows, err := instrument.ParseSweepOutput(raw)
	if err != nil {
		return err
	}
	if err := c.checkErrorsLocked(); err != nil {
		return err
	}

	c.buffer = rows

	return nil
}

func (c *Conn) FetchBuffer() ([]instrument.BufferRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buffer == nil {
		return nil, ErrNoBuffer
	}

	rows := c.buffer
	c.buffer = nil

	return rows, nil
}

// ForceZero drives the source to zero volts and disables output. The output
// state is marked off even when the disable command fails.
func (c *Conn) ForceZero() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cmd string
	if c.dialect == TSP2600 {
		cmd = fmt.Sprintf("%s.source.levelv = 0", c.channel)
	} else {
		cmd = "SOUR:VOLT 0"
	}
	zeroErr := c.session.Write(cmd)

	if err := c.disableOutputLocked(); err != nil {
		c.outputEnabled = false
		if zeroErr == nil {
			zeroErr = err
		}
	}

	return zeroErr
}

// Close zeroes the output on a best-effort basis and releases the session.
func (c *Conn) Close() error {
	if err := c.ForceZero(); err != nil {
		c.log.Error("failed to zero output during close", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.Close()
}

func (c *Conn) enableOutputLocked() error {
	if c.outputEnabled {
		return nil
	}

	var cmd string
	if c.dialect == TSP2600 {
		cmd = fmt.Sprintf("%s.source.output = %s.OUTPUT_ON", c.channel, c.channel)
	} else {
		cmd = "OUTP ON"
	}
	if err := c.session.Write(cmd); err != nil {
		return err
	}
	c.outputEnabled = true

	return c.checkErrorsLocked()
}

func (c *Conn) disableOutputLocked() error {
	var cmd string
	if c.dialect == TSP2600 {
		cmd = fmt.Sprintf("%s.source.output = %s.OUTPUT_OFF", c.channel, c.channel)
	} else {
		cmd = "OUTP OFF"
	}
	if err := c.session.Write(cmd); err != nil {
		return err
	}
	c.outputEnabled = false

	return nil
}

func (c *Conn) queryIdentity() string {
	if idn, err := c.session.Query("*IDN?"); err == nil {
		return strings.TrimSpace(idn)
	}

	// TSP-only firmware may not answer *IDN?
	if model, err := c.session.Query("print(localnode.model)"); err == nil {
		return "KEITHLEY," + strings.TrimSpace(model) + ",TSP"
	}

	return "Unknown instrument"
}

func (c *Conn) validateIdentity() error {
	id := strings.ToUpper(c.idn)
	if !strings.Contains(id, "KEITHLEY") && !strings.Contains(id, "TEKTRONIX") {
		return fmt.Errorf("%w: %s", ErrUnsupportedInstrument, c.idn)
	}

	return nil
}

func (c *Conn) setupSCPIDefaults() error {
	cmds := []string{
		"*CLS",
		"OUTP OFF",
		"SOUR:VOLT 0",
		"SENS:CURR:RANG:AUTO ON",
		"SENS:CURR:PROT 1E-6",
	}
	for _, cmd := range cmds {
		if err := c.session.Write(cmd); err != nil {
			return err
		}
	}

	return c.checkErrorsLocked()
}

func (c *Conn) setupTSPDefaults() error {
	ch := c.channel
	cmds := []string{
		fmt.Sprintf("%s.reset()", ch),
		fmt.Sprintf("%s.source.func = %s.OUTPUT_DCVOLTS", ch, ch),
		fmt.Sprintf("%s.source.levelv = 0", ch),
		fmt.Sprintf("%s.source.limiti = 1e-6", ch),
		fmt.Sprintf("%s.measure.autorangei = %s.AUTORANGE_ON", ch, ch),
		fmt.Sprintf("%s.source.output = %s.OUTPUT_OFF", ch, ch),
	}
	for _, cmd := range cmds {
		if err := c.session.Write(cmd); err != nil {
			return err
		}
	}

	return c.checkErrorsLocked()
}

// checkErrorsLocked drains the instrument error queue and fails when it holds
// any non-zero entry.
func (c *Conn) checkErrorsLocked() error {
	if c.dialect == TSP2600 {
		countRaw, err := c.session.Query("print(errorqueue.count)")
		if err != nil {
			return err
		}
		countF, err := extractFirstFloat(countRaw)
		if err != nil {
			return err
		}
		count := int(math.Abs(countF))
		if count <= 0 {
			return nil
		}

		var msgs []string
		for i := 0; i < count; i++ {
			raw, err := c.session.Query(
				"code, msg, sev, node = errorqueue.next(); print(code .. '|' .. msg .. '|' .. sev .. '|' .. node)")
			if err != nil {
				return err
			}
			parts := strings.Split(strings.TrimSpace(raw), "|")
			code := 0
			if len(parts) > 0 {
				if f, ferr := extractFirstFloat(parts[0]); ferr == nil {
					code = int(f)
				}
			}
			if code != 0 {
				msg := raw
				if len(parts) > 1 {
					msg = strings.TrimSpace(parts[1])
				}
				msgs = append(msgs, fmt.Sprintf("%d: %s", code, msg))
			}
		}
		if len(msgs) > 0 {
			return fmt.Errorf("instrument error(s): %s", strings.Join(msgs, "; "))
		}

		return nil
	}

	errLine, err := c.session.Query("SYST:ERR?")
	if err != nil {
		return err
	}
	errLine = strings.TrimSpace(errLine)
	if !strings.HasPrefix(errLine, "0") && !strings.HasPrefix(errLine, "+0") {
		return fmt.Errorf("instrument error: %s", errLine)
	}

	return nil
}

func extractFirstFloat(raw string) (float64, error) {
	first := strings.SplitN(strings.TrimSpace(raw), ",", 2)[0]
	match := floatPattern.FindString(first)
	if match == "" {
		return 0, fmt.Errorf("unexpected instrument response: %s", strings.TrimSpace(raw))
	}

	return strconv.ParseFloat(match, 64)
}
