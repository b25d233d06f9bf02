// Package datalog implements the logging collaborator of the sequencing
// engine: it receives every sample as produced and persists runs as CSV,
// honoring the append/overwrite decision made before the run starts.
package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/voltlab/go-smu/logger"
	"github.com/voltlab/go-smu/sweep"
)

var csvHeader = []string{"timestamp", "cycle", "time_s", "voltage", "current", "sample_name", "operator", "notes"}

var (
	// ErrNoOutputFile indicates an autosave or save attempt without an output
	// file configured.
	ErrNoOutputFile = errors.New("no output file selected")

	// ErrNoRows indicates that a loaded CSV contained no valid measurement rows.
	ErrNoRows = errors.New("no valid measurement rows found")

	// ErrMissingColumns indicates a CSV without the required header columns.
	ErrMissingColumns = errors.New("csv must contain at least: timestamp, voltage, current")
)

// Measurement is one persisted row: a sample plus the run metadata active at
// record time.
type Measurement struct {
	Timestamp  time.Time
	Cycle      int
	TimeS      float64
	Voltage    float64
	Current    float64
	SampleName string
	Operator   string
	Notes      string
}

// CSVLogger accumulates measurements in memory and, when an output file is
// set, appends each row as it arrives. It implements sweep.RunObserver.
type CSVLogger struct {
	mu         sync.Mutex
	rows       []Measurement
	outputFile string
	autosave   bool
	sampleName string
	operator   string
	notes      string
	log        logger.Logger
}

var _ sweep.RunObserver = (*CSVLogger)(nil)

// NewCSVLogger creates an empty CSV logger.
func NewCSVLogger(l logger.Logger) *CSVLogger {
	if l == nil {
		l = logger.GetLogger()
	}

	return &CSVLogger{log: l}
}

// SetMetadata sets the sample/operator/notes metadata recorded on every
// subsequent row.
func (c *CSVLogger) SetMetadata(sampleName, operator, notes string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sampleName = sampleName
	c.operator = operator
	c.notes = notes
}

// SetOutputFile configures the autosave target before a run. A FileOverwrite
// decision truncates the file and writes a fresh header; FileAppend leaves
// existing content in place. FileAbort is rejected: the controller must not
// have started the run.
func (c *CSVLogger) SetOutputFile(path string, decision sweep.FileDecision) error {
	if decision == sweep.FileAbort {
		return sweep.ErrRunAbortedByFileDecision
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if decision == sweep.FileOverwrite {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	c.outputFile = path
	c.autosave = true

	return nil
}

// OutputFile returns the configured autosave path.
func (c *CSVLogger) OutputFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.outputFile
}

// Rows returns a snapshot of the accumulated measurements.
func (c *CSVLogger) Rows() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]Measurement, len(c.rows))
	copy(rows, c.rows)

	return rows
}

// Clear drops the in-memory measurements. The output file is untouched.
func (c *CSVLogger) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows = c.rows[:0]
}

// RunStarted implements sweep.RunObserver.
func (c *CSVLogger) RunStarted(info sweep.RunInfo) {
	c.log.Info("run started", "run_id", info.ID, "protocol", info.Kind, "samples", info.Samples)
}

// HandleSample implements sweep.RunObserver. Each sample is recorded in
// memory and, when autosave is active, appended to the output file
// immediately so an interrupted run loses no data.
func (c *CSVLogger) HandleSample(s sweep.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Measurement{
		Timestamp:  time.Now(),
		Cycle:      s.Cycle,
		TimeS:      s.Elapsed.Seconds(),
		Voltage:    s.Voltage,
		Current:    s.Current,
		SampleName: c.sampleName,
		Operator:   c.operator,
		Notes:      c.notes,
	}
	c.rows = append(c.rows, m)

	if !c.autosave {
		return
	}
	if c.outputFile == "" {
		c.log.Error("autosave enabled without an output file")
		return
	}
	if err := c.appendRowLocked(m); err != nil {
		c.log.Error("failed to append measurement row", "file", c.outputFile, "error", err)
	}
}

// RunFinished implements sweep.RunObserver.
func (c *CSVLogger) RunFinished(info sweep.RunInfo, status sweep.RunStatus, err error) {
	c.log.Info("run finished", "run_id", info.ID, "status", status, "error", err)
}

// Save writes all accumulated rows (plus header) to path, or to the
// configured output file when path is empty.
func (c *CSVLogger) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path == "" {
		path = c.outputFile
	}
	if path == "" {
		return ErrNoOutputFile
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range c.rows {
		if err := w.Write(formatRow(row)); err != nil {
			return err
		}
	}
	w.Flush()

	return w.Error()
}

// Load replaces the in-memory rows with the contents of a CSV file. The file
// must carry at least the timestamp, voltage and current columns; rows that
// fail to parse are skipped.
func (c *CSVLogger) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("csv file has no header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "voltage", "current"} {
		if _, ok := col[required]; !ok {
			return ErrMissingColumns
		}
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var loaded []Measurement
	for {
		record, err := r.Read()
		if err != nil {
			break
		}

		voltage, verr := strconv.ParseFloat(field(record, "voltage"), 64)
		current, ierr := strconv.ParseFloat(field(record, "current"), 64)
		if verr != nil || ierr != nil {
			continue
		}

		ts, _ := time.Parse(time.RFC3339, field(record, "timestamp"))
		cycle, _ := strconv.Atoi(field(record, "cycle"))
		timeS, _ := strconv.ParseFloat(field(record, "time_s"), 64)

		loaded = append(loaded, Measurement{
			Timestamp:  ts,
			Cycle:      cycle,
			TimeS:      timeS,
			Voltage:    voltage,
			Current:    current,
			SampleName: field(record, "sample_name"),
			Operator:   field(record, "operator"),
			Notes:      field(record, "notes"),
		})
	}

	if len(loaded) == 0 {
		return ErrNoRows
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = loaded
	c.outputFile = path
	c.autosave = false

	return nil
}

func (c *CSVLogger) appendRowLocked(m Measurement) error {
	stat, err := os.Stat(c.outputFile)
	writeHeader := errors.Is(err, os.ErrNotExist) || (err == nil && stat.Size() == 0)

	f, err := os.OpenFile(c.outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	if err := w.Write(formatRow(m)); err != nil {
		return err
	}
	w.Flush()

	return w.Error()
}

func formatRow(m Measurement) []string {
	return []string{
		m.Timestamp.Format(time.RFC3339),
		strconv.Itoa(m.Cycle),
		strconv.FormatFloat(m.TimeS, 'g', -1, 64),
		strconv.FormatFloat(m.Voltage, 'g', -1, 64),
		strconv.FormatFloat(m.Current, 'e', 12, 64),
		m.SampleName,
		m.Operator,
		m.Notes,
	}
}
