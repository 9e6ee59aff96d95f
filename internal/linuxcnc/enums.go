package linuxcnc

// Task states
const (
	StateEstop      = 1
	StateEstopReset = 2
	StateOff        = 3
	StateOn         = 4
)

// Task modes
const (
	ModeManual = 1
	ModeAuto   = 2
	ModeMDI    = 3
)

// Interpreter states
const (
	InterpIdle    = 1
	InterpReading = 2
	InterpPaused  = 3
	InterpWaiting = 4
)

// Task execution states
const (
	ExecError                   = 1
	ExecDone                    = 2
	ExecWaitingForMotion        = 3
	ExecWaitingForMotionQueue   = 4
	ExecWaitingForIO            = 5
	ExecWaitingForMotionAndIO   = 7
	ExecWaitingForDelay         = 8
	ExecWaitingForSystemCmd     = 9
	ExecWaitingForSpindleOrient = 10
)

// Motion modes
const (
	TrajModeFree   = 1
	TrajModeCoord  = 2
	TrajModeTeleop = 3
)

// Program units
const (
	UnitsInches = 1
	UnitsMM     = 2
	UnitsCM     = 3
)

// TaskStateNames maps task_state values to display text
var TaskStateNames = map[int]string{
	0:               "Unknown",
	StateEstop:      "Estop",
	StateEstopReset: "Reset",
	StateOn:         "On",
	StateOff:        "Off",
}

// TaskModeNames maps task_mode values to display text
var TaskModeNames = map[int]string{
	0:          "Unknown",
	ModeManual: "Manual",
	ModeAuto:   "Auto",
	ModeMDI:    "MDI",
}

// InterpStateNames maps interp_state values to display text
var InterpStateNames = map[int]string{
	0:             "Unknown",
	InterpIdle:    "Idle",
	InterpReading: "Reading",
	InterpPaused:  "Paused",
	InterpWaiting: "Waiting",
}

// ExecStateNames maps exec_state values to display text
var ExecStateNames = map[int]string{
	ExecError:                   "Error",
	ExecDone:                    "Done",
	ExecWaitingForMotion:        "Waiting for Motion",
	ExecWaitingForMotionQueue:   "Waiting for Motion Queue",
	ExecWaitingForIO:            "Waiting for Pause",
	ExecWaitingForMotionAndIO:   "Waiting for Motion and IO",
	ExecWaitingForDelay:         "Waiting for Delay",
	ExecWaitingForSystemCmd:     "Waiting for system CMD",
	ExecWaitingForSpindleOrient: "Waiting for spindle orient",
}

// MotionModeNames maps motion_mode values to display text
var MotionModeNames = map[int]string{
	0:              "Unknown",
	TrajModeCoord:  "Coord",
	TrajModeFree:   "Free",
	TrajModeTeleop: "Teleop",
}

// CoordinateSystems is indexed by g5x_index
var CoordinateSystems = []string{"G53", "G54", "G55", "G56", "G57", "G58", "G59", "G59.1", "G59.2", "G59.3"}

// ProgramUnitNames is indexed by program_units
var ProgramUnitNames = []string{"NA", "in", "mm", "cm"}

// ProgramUnitLongNames is indexed by program_units
var ProgramUnitLongNames = []string{"NA", "inches", "millimeters", "centimeters"}

// Error channel message kinds
const (
	NMLError        = 1
	NMLText         = 2
	NMLDisplay      = 3
	OperatorError   = 11
	OperatorText    = 12
	OperatorDisplay = 13
)
