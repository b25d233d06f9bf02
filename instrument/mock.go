package instrument

import (
	"github.com/stretchr/testify/mock"
)

// MockInstrument is a testify mock implementation of Instrument.
type MockInstrument struct {
	mock.Mock
}

var _ Instrument = (*MockInstrument)(nil)

func NewMockInstrument() *MockInstrument {
	return &MockInstrument{}
}

func (m *MockInstrument) ApplyVoltage(v float64) error {
	args := m.Called(v)
	return args.Error(0)
}

func (m *MockInstrument) ReadCurrent() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockInstrument) SetCompliance(ua float64) error {
	args := m.Called(ua)
	return args.Error(0)
}

func (m *MockInstrument) RunScript(script *Script) error {
	args := m.Called(script)
	return args.Error(0)
}

func (m *MockInstrument) FetchBuffer() ([]BufferRow, error) {
	args := m.Called()
	if rows := args.Get(0); rows != nil {
		return rows.([]BufferRow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstrument) ForceZero() error {
	args := m.Called()
	return args.Error(0)
}
