package status

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cncpanel/internal/channel"
	"cncpanel/internal/linuxcnc"
)

// typeHints holds the declared type of every Stat attribute.
var typeHints = func() map[string]channel.Type {
	out := make(map[string]channel.Type)
	for name, v := range linuxcnc.Fields(&linuxcnc.Stat{}) {
		out[name] = channel.TypeOf(v)
	}
	return out
}()

func typeHint(name string) channel.Type {
	return typeHints[name]
}

// tupleFields accept an "anum" query selecting one element.
var tupleFields = []string{
	"position",
	"actual_position",
	"joint_position",
	"g5x_offset",
	"g92_offset",
	"tool_offset",
	"dtg",
}

// declareStatic creates the channels that need custom accessors. They take
// precedence over the channels discovered from the source.
func (p *Plugin) declareStatic() error {
	channels := []*channel.Channel{
		p.newChannel("task_state",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Task State"),
			channel.WithFormatter(enumFormatter(linuxcnc.TaskStateNames)),
			p.commandSetter("state", toIntArg)),
		p.newChannel("estop",
			channel.WithType(channel.TypeBool),
			channel.WithDescription("Emergency Stop"),
			p.commandSetter("estop", toBoolArg)),
		p.newChannel("enabled",
			channel.WithType(channel.TypeBool),
			channel.WithDescription("Machine Enabled"),
			p.commandSetter("enabled", toBoolArg)),
		p.newChannel("task_mode",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Task Mode"),
			channel.WithFormatter(enumFormatter(linuxcnc.TaskModeNames)),
			p.commandSetter("mode", toIntArg)),
		p.newChannel("interp_state",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Interpreter State"),
			channel.WithFormatter(enumFormatter(linuxcnc.InterpStateNames))),
		p.newChannel("exec_state",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Task Execution State"),
			channel.WithFormatter(enumFormatter(linuxcnc.ExecStateNames))),
		p.newChannel("motion_mode",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Motion Mode"),
			channel.WithFormatter(enumFormatter(linuxcnc.MotionModeNames))),
		p.newChannel("g5x_index",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Active Coordinate System"),
			channel.WithFormatter(indexFormatter(linuxcnc.CoordinateSystems, nil))),
		p.newChannel("program_units",
			channel.WithType(channel.TypeInt),
			channel.WithDescription("Program Units"),
			channel.WithFormatter(indexFormatter(linuxcnc.ProgramUnitNames, linuxcnc.ProgramUnitLongNames))),
		p.newChannel("file",
			channel.WithType(channel.TypeString),
			channel.WithDescription("Loaded Program"),
			channel.WithFormatter(fileFormatter)),
		p.newChannel("gcodes",
			channel.WithType(channel.TypeTuple),
			channel.WithDescription("Active G-codes"),
			channel.WithFormatter(codesFormatter("G"))),
		p.newChannel("mcodes",
			channel.WithType(channel.TypeTuple),
			channel.WithDescription("Active M-codes"),
			channel.WithFormatter(codesFormatter("M"))),
		p.newChannel("feedrate",
			channel.WithType(channel.TypeFloat),
			channel.WithDescription("Feed Override"),
			p.commandSetter("feedrate", toFloatArg)),
		p.newChannel("rapidrate",
			channel.WithType(channel.TypeFloat),
			channel.WithDescription("Rapid Override"),
			p.commandSetter("rapidrate", toFloatArg)),
		p.newChannel("mist",
			channel.WithType(channel.TypeBool),
			channel.WithDescription("Mist Coolant"),
			p.commandSetter("mist", toBoolArg)),
		p.newChannel("flood",
			channel.WithType(channel.TypeBool),
			channel.WithDescription("Flood Coolant"),
			p.commandSetter("flood", toBoolArg)),
	}

	for _, name := range tupleFields {
		channels = append(channels, p.newChannel(name,
			channel.WithType(channel.TypeTuple),
			channel.WithGetter(tupleGetter)))
	}

	channels = append(channels, p.newChannel("homed",
		channel.WithType(channel.TypeTuple),
		channel.WithDescription("Joint Homed Flags"),
		channel.WithGetter(homedGetter)))

	p.errorCh = p.newChannel("error",
		channel.WithType(channel.TypeString),
		channel.WithDescription("Last Machine Error"),
		channel.WithValue(""))
	p.messageCh = p.newChannel("message",
		channel.WithType(channel.TypeString),
		channel.WithDescription("Last Machine Message"),
		channel.WithValue(""))
	p.recentCh = p.newChannel("recent_files",
		channel.WithType(channel.TypeTuple),
		channel.WithDescription("Recently Loaded Programs"),
		channel.WithValue([]any{}))
	channels = append(channels, p.errorCh, p.messageCh, p.recentCh)

	on := p.newChannel("on",
		channel.WithType(channel.TypeBool),
		channel.WithDescription("Machine On"))
	allHomed := p.newChannel("all_homed",
		channel.WithType(channel.TypeBool),
		channel.WithDescription("All Joints Homed"))
	channels = append(channels, on, allHomed)

	p.derived = []derivedChannel{
		{ch: on, compute: p.machineOn},
		{ch: allHomed, compute: p.allHomed},
	}

	for _, ch := range channels {
		if err := p.AddChannel(ch); err != nil {
			return err
		}
	}
	return nil
}

// commandSetter makes a channel settable when the source accepts commands.
// The new value is not stored; it arrives with the next snapshot.
func (p *Plugin) commandSetter(command string, convert func(any) (any, error)) channel.Option {
	if p.commander == nil {
		return func(*channel.Channel) {}
	}
	return channel.WithSetter(func(c *channel.Channel, v any) error {
		if p.readOnly {
			return fmt.Errorf("read-only mode, not sending %s", command)
		}
		arg, err := convert(v)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(p.ctx, pollTimeout)
		defer cancel()
		return p.commander.Command(ctx, command, arg)
	})
}

func toIntArg(v any) (any, error)   { return channel.ToInt(v) }
func toFloatArg(v any) (any, error) { return channel.ToFloat(v) }
func toBoolArg(v any) (any, error)  { return channel.ToBool(v) }

// machineOn is true while task_state is ON.
func (p *Plugin) machineOn() any {
	state, err := channel.ToInt(p.cache["task_state"])
	return err == nil && state == linuxcnc.StateOn
}

// allHomed is true when every configured joint reports homed.
func (p *Plugin) allHomed() any {
	if len(p.joints) > 0 {
		for _, j := range p.joints {
			if !channel.Truthy(j["homed"]) {
				return false
			}
		}
		return true
	}

	n, _ := channel.ToInt(p.cache["joints"])
	if n <= 0 {
		return false
	}
	for i := 0; i < n; i++ {
		h, err := channel.Element(p.cache["homed"], i)
		if err != nil || !channel.Truthy(h) {
			return false
		}
	}
	return true
}

// tupleGetter returns one element when the query has "anum", otherwise the
// whole tuple.
func tupleGetter(c *channel.Channel, q channel.Query) (any, error) {
	anum, ok, err := q.Int("anum")
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.Raw(), nil
	}
	return channel.Element(c.Raw(), anum)
}

// homedGetter returns the homed flag of one joint as a bool when the query
// has "anum", otherwise the whole tuple.
func homedGetter(c *channel.Channel, q channel.Query) (any, error) {
	v, err := tupleGetter(c, q)
	if err != nil {
		return nil, err
	}
	if _, ok := q.Get("anum"); ok {
		return channel.Truthy(v), nil
	}
	return v, nil
}

func enumFormatter(names map[int]string) channel.Formatter {
	return func(c *channel.Channel, q channel.Query) (string, error) {
		n, err := channel.ToInt(c.Raw())
		if err != nil {
			return "Unknown", nil
		}
		if name, ok := names[n]; ok {
			return name, nil
		}
		return "Unknown", nil
	}
}

// indexFormatter looks the value up in short, or in long with format=long.
func indexFormatter(short, long []string) channel.Formatter {
	return func(c *channel.Channel, q channel.Query) (string, error) {
		table := short
		if f, _ := q.Get("format"); f == "long" && long != nil {
			table = long
		}
		n, err := channel.ToInt(c.Raw())
		if err != nil {
			return "", err
		}
		if n < 0 || n >= len(table) {
			return "", fmt.Errorf("%w: %d has no name", channel.ErrBadIndex, n)
		}
		return table[n], nil
	}
}

// fileFormatter returns the loaded program path, or its base name with format=basename.
func fileFormatter(c *channel.Channel, q channel.Query) (string, error) {
	path, _ := c.Raw().(string)
	if f, _ := q.Get("format"); f == "basename" && path != "" {
		return filepath.Base(path), nil
	}
	return path, nil
}

// codesFormatter renders active modal codes as "G17 G21 G40", skipping the
// sequence number slot and unused groups.
func codesFormatter(prefix string) channel.Formatter {
	return func(c *channel.Channel, q channel.Query) (string, error) {
		raw, ok := c.Raw().([]any)
		if !ok || len(raw) == 0 {
			return "", nil
		}

		codes := make([]int, 0, len(raw)-1)
		for _, v := range raw[1:] {
			n, err := channel.ToInt(v)
			if err != nil || n == -1 {
				continue
			}
			codes = append(codes, n)
		}
		sort.Ints(codes)

		parts := make([]string, len(codes))
		for i, code := range codes {
			if prefix == "G" {
				parts[i] = prefix + strconv.FormatFloat(float64(code)/10, 'g', -1, 64)
			} else {
				parts[i] = prefix + strconv.Itoa(code)
			}
		}
		return strings.Join(parts, " "), nil
	}
}
