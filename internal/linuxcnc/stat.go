// Package linuxcnc models the machine-control daemon status snapshot and
// provides the websocket client that fetches it.
package linuxcnc

import (
	"context"
	"reflect"
)

// MaxJoints and MaxSpindles bound the per-joint and per-spindle tables
const (
	MaxJoints   = 9
	MaxSpindles = 8
)

// Stat is the subset of the daemon status the panel reads. Every field
// tagged with `stat` is exposed as an attribute of a Snapshot.
type Stat struct {
	TaskState   int  `json:"task_state" stat:"task_state"`
	TaskMode    int  `json:"task_mode" stat:"task_mode"`
	TaskPaused  bool `json:"task_paused" stat:"task_paused"`
	ExecState   int  `json:"exec_state" stat:"exec_state"`
	InterpState int  `json:"interp_state" stat:"interp_state"`
	MotionMode  int  `json:"motion_mode" stat:"motion_mode"`
	Estop       bool `json:"estop" stat:"estop"`
	Enabled     bool `json:"enabled" stat:"enabled"`
	Paused      bool `json:"paused" stat:"paused"`
	Inpos       bool `json:"inpos" stat:"inpos"`

	Homed          []int     `json:"homed" stat:"homed"`
	Position       []float64 `json:"position" stat:"position"`
	ActualPosition []float64 `json:"actual_position" stat:"actual_position"`
	JointPosition  []float64 `json:"joint_position" stat:"joint_position"`
	G5xOffset      []float64 `json:"g5x_offset" stat:"g5x_offset"`
	G92Offset      []float64 `json:"g92_offset" stat:"g92_offset"`
	ToolOffset     []float64 `json:"tool_offset" stat:"tool_offset"`
	Dtg            []float64 `json:"dtg" stat:"dtg"`
	RotationXY     float64   `json:"rotation_xy" stat:"rotation_xy"`
	G5xIndex       int       `json:"g5x_index" stat:"g5x_index"`
	Gcodes         []int     `json:"gcodes" stat:"gcodes"`
	Mcodes         []int     `json:"mcodes" stat:"mcodes"`

	File         string  `json:"file" stat:"file"`
	ProgramUnits int     `json:"program_units" stat:"program_units"`
	LinearUnits  float64 `json:"linear_units" stat:"linear_units"`
	MotionLine   int     `json:"motion_line" stat:"motion_line"`
	CurrentLine  int     `json:"current_line" stat:"current_line"`
	Queue        int     `json:"queue" stat:"queue"`
	ActiveQueue  int     `json:"active_queue" stat:"active_queue"`

	Feedrate      float64 `json:"feedrate" stat:"feedrate"`
	Rapidrate     float64 `json:"rapidrate" stat:"rapidrate"`
	CurrentVel    float64 `json:"current_vel" stat:"current_vel"`
	Mist          bool    `json:"mist" stat:"mist"`
	Flood         bool    `json:"flood" stat:"flood"`
	ToolInSpindle int     `json:"tool_in_spindle" stat:"tool_in_spindle"`

	NumJoints   int `json:"joints" stat:"joints"`
	NumSpindles int `json:"spindles" stat:"spindles"`

	AxisMask         int     `json:"axis_mask" stat:"axis_mask"`
	CycleTime        float64 `json:"cycle_time" stat:"cycle_time"`
	EchoSerialNumber int     `json:"echo_serial_number" stat:"echo_serial_number"`
	ID               int     `json:"id" stat:"id"`
	Debug            int     `json:"debug" stat:"debug"`
	Command          string  `json:"command" stat:"command"`
	KinematicsType   int     `json:"kinematics_type" stat:"kinematics_type"`
	Acceleration     float64 `json:"acceleration" stat:"acceleration"`
	MaxAcceleration  float64 `json:"max_acceleration" stat:"max_acceleration"`

	Joint   []JointStat   `json:"joint" stat:"joint"`
	Spindle []SpindleStat `json:"spindle" stat:"spindle"`
}

// JointStat is the status of a single joint
type JointStat struct {
	Homed         bool    `json:"homed" stat:"homed"`
	Homing        bool    `json:"homing" stat:"homing"`
	Enabled       bool    `json:"enabled" stat:"enabled"`
	Fault         bool    `json:"fault" stat:"fault"`
	Inpos         bool    `json:"inpos" stat:"inpos"`
	Input         float64 `json:"input" stat:"input"`
	Output        float64 `json:"output" stat:"output"`
	Velocity      float64 `json:"velocity" stat:"velocity"`
	FerrorCurrent float64 `json:"ferror_current" stat:"ferror_current"`
	MinHardLimit  bool    `json:"min_hard_limit" stat:"min_hard_limit"`
	MaxHardLimit  bool    `json:"max_hard_limit" stat:"max_hard_limit"`
	MinSoftLimit  bool    `json:"min_soft_limit" stat:"min_soft_limit"`
	MaxSoftLimit  bool    `json:"max_soft_limit" stat:"max_soft_limit"`
}

// SpindleStat is the status of a single spindle
type SpindleStat struct {
	Speed           float64 `json:"speed" stat:"speed"`
	Direction       int     `json:"direction" stat:"direction"`
	Enabled         bool    `json:"enabled" stat:"enabled"`
	Brake           bool    `json:"brake" stat:"brake"`
	Override        float64 `json:"override" stat:"override"`
	OverrideEnabled bool    `json:"override_enabled" stat:"override_enabled"`
	OrientState     int     `json:"orient_state" stat:"orient_state"`
	OrientFault     bool    `json:"orient_fault" stat:"orient_fault"`
}

// Snapshot is one poll of the daemon status. Values are plain Go values;
// sequences are []any tuples. A Snapshot is never modified after creation.
type Snapshot struct {
	Fields   map[string]any
	Joints   []map[string]any
	Spindles []map[string]any
}

// Source produces snapshots. Implemented by Client and MockClient.
type Source interface {
	// FieldNames lists every attribute a snapshot may contain.
	FieldNames() []string

	// Poll fetches the current status.
	Poll(ctx context.Context) (*Snapshot, error)
}

// Commander sends commands to the daemon. Sources that also implement
// Commander make the matching status channels settable.
type Commander interface {
	Command(ctx context.Context, name string, args ...any) error
}

// ErrorSource queues the messages of the daemon error channel. Errors
// returns everything queued since the previous call, oldest first.
type ErrorSource interface {
	Errors() []ErrorMessage
}

// StatFieldNames returns the stat tag of every Stat field in declaration order
func StatFieldNames() []string {
	return tagNames(reflect.TypeOf(Stat{}))
}

// JointFieldNames returns the attributes of a joint entry
func JointFieldNames() []string {
	return tagNames(reflect.TypeOf(JointStat{}))
}

// SpindleFieldNames returns the attributes of a spindle entry
func SpindleFieldNames() []string {
	return tagNames(reflect.TypeOf(SpindleStat{}))
}

// NewSnapshot converts a Stat into a Snapshot. The joint and spindle tables
// are truncated to NumJoints/NumSpindles when those are set.
func NewSnapshot(s *Stat) *Snapshot {
	snap := &Snapshot{Fields: Fields(s)}

	joints := s.Joint
	if s.NumJoints > 0 && s.NumJoints < len(joints) {
		joints = joints[:s.NumJoints]
	}
	if len(joints) > MaxJoints {
		joints = joints[:MaxJoints]
	}
	for i := range joints {
		snap.Joints = append(snap.Joints, Fields(&joints[i]))
	}

	spindles := s.Spindle
	if s.NumSpindles > 0 && s.NumSpindles < len(spindles) {
		spindles = spindles[:s.NumSpindles]
	}
	if len(spindles) > MaxSpindles {
		spindles = spindles[:MaxSpindles]
	}
	for i := range spindles {
		snap.Spindles = append(snap.Spindles, Fields(&spindles[i]))
	}

	return snap
}

// Fields returns the stat-tagged fields of a struct pointer as a map.
// Slices of scalars become []any tuples; slices of structs are skipped.
func Fields(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	rt := rv.Type()

	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Tag.Get("stat")
		if name == "" || name == "-" {
			continue
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Slice {
			if fv.Type().Elem().Kind() == reflect.Struct {
				continue
			}
			tuple := make([]any, fv.Len())
			for j := range tuple {
				tuple[j] = fv.Index(j).Interface()
			}
			out[name] = tuple
			continue
		}

		out[name] = fv.Interface()
	}
	return out
}

func tagNames(rt reflect.Type) []string {
	names := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Tag.Get("stat")
		if name == "" || name == "-" {
			continue
		}
		names = append(names, name)
	}
	return names
}
