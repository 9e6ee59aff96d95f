package linuxcnc

import (
	"context"
	"sync"
)

// CommandCall records a command sent through MockClient
type CommandCall struct {
	Name string
	Args []any
}

// MockClient implements Source and Commander for testing. The status is
// edited in place with Update and every Poll converts the current value.
type MockClient struct {
	mu       sync.Mutex
	stat     Stat
	pollErr  error
	cmdErr   error
	polls    int
	commands []CommandCall
	onCmd    func(s *Stat, call CommandCall)
	errs     []ErrorMessage
}

// NewMockClient creates a mock with the given initial status
func NewMockClient(initial Stat) *MockClient {
	return &MockClient{stat: initial}
}

// FieldNames returns the attributes of a status snapshot
func (m *MockClient) FieldNames() []string {
	return StatFieldNames()
}

// Poll returns a snapshot of the current status, or the configured error
func (m *MockClient) Poll(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	return NewSnapshot(&m.stat), nil
}

// Command records the command and applies the OnCommand hook, if any
func (m *MockClient) Command(ctx context.Context, name string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := CommandCall{Name: name, Args: args}
	m.commands = append(m.commands, call)
	if m.cmdErr != nil {
		return m.cmdErr
	}
	if m.onCmd != nil {
		m.onCmd(&m.stat, call)
	}
	return nil
}

// Update edits the status under the mock's lock
func (m *MockClient) Update(fn func(s *Stat)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stat)
}

// SetPollError makes subsequent polls fail with err (nil clears it)
func (m *MockClient) SetPollError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

// SetCommandError makes subsequent commands fail with err (nil clears it)
func (m *MockClient) SetCommandError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmdErr = err
}

// OnCommand installs a hook that applies a command to the mock status
func (m *MockClient) OnCommand(fn func(s *Stat, call CommandCall)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCmd = fn
}

// Commands returns the recorded commands
func (m *MockClient) Commands() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CommandCall, len(m.commands))
	copy(out, m.commands)
	return out
}

// PushError queues a message on the mock error channel
func (m *MockClient) PushError(kind int, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, ErrorMessage{Kind: kind, Text: text})
}

// Errors drains the queued error channel messages
func (m *MockClient) Errors() []ErrorMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.errs
	m.errs = nil
	return out
}

// Polls returns how many times Poll was called
func (m *MockClient) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// DefaultStat returns a plausible idle status for a three-axis machine
func DefaultStat() Stat {
	return Stat{
		TaskState:      StateEstop,
		TaskMode:       ModeManual,
		ExecState:      ExecDone,
		InterpState:    InterpIdle,
		MotionMode:     TrajModeFree,
		Estop:          true,
		Homed:          []int{0, 0, 0, 0, 0, 0, 0, 0, 0},
		Position:       make([]float64, 9),
		ActualPosition: make([]float64, 9),
		JointPosition:  make([]float64, 9),
		G5xOffset:      make([]float64, 9),
		G92Offset:      make([]float64, 9),
		ToolOffset:     make([]float64, 9),
		Dtg:            make([]float64, 9),
		G5xIndex:       1,
		Gcodes:         []int{0, 800, -1, 170, 400, 200, 900, 940, 540, 490, 990, 640, -1, 970, 911, 80},
		Mcodes:         []int{0, -1, 5, -1, 9, -1, 48, -1, 53, -1},
		ProgramUnits:   UnitsMM,
		LinearUnits:    1.0,
		Feedrate:       1.0,
		Rapidrate:      1.0,
		NumJoints:      3,
		NumSpindles:    1,
		AxisMask:       7,
		CycleTime:      0.001,
		Joint:          make([]JointStat, 3),
		Spindle:        []SpindleStat{{Override: 1.0}},
	}
}
