// Package hal implements the hal data plugin. Pin values are sampled by
// running the HAL command-line tool on a background goroutine and handed
// to the event loop as immutable snapshots.
package hal

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cncpanel/internal/channel"
)

// Pin directions as printed by "halcmd show pin"
const (
	DirIn    = "IN"
	DirOut   = "OUT"
	DirInOut = "I/O"
)

// Pin is one line of "halcmd -s show pin" output
type Pin struct {
	Owner     string
	Type      string
	Direction string
	Value     any
	Name      string
	Signal    string
}

// Settable reports whether the pin can be written with setp
func (p Pin) Settable() bool {
	return p.Direction == DirIn || p.Direction == DirInOut
}

// ChannelType maps the HAL type to the channel value type
func (p Pin) ChannelType() channel.Type {
	switch p.Type {
	case "bit":
		return channel.TypeBool
	case "float":
		return channel.TypeFloat
	case "s32", "u32":
		return channel.TypeInt
	}
	return channel.TypeAny
}

// ParseShowPin parses the output of "halcmd -s show pin". Each line holds
// owner, type, direction, value and name, optionally followed by an arrow
// and the connected signal. Blank lines are skipped.
func ParseShowPin(r io.Reader) (map[string]Pin, error) {
	pins := make(map[string]Pin)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(fields))
		}

		value, err := ParseValue(fields[1], fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		pin := Pin{
			Owner:     fields[0],
			Type:      fields[1],
			Direction: fields[2],
			Value:     value,
			Name:      fields[4],
		}
		if len(fields) >= 7 {
			pin.Signal = fields[6]
		}
		pins[pin.Name] = pin
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pins, nil
}

// ParseValue converts a printed pin value to bool, float64 or int64
func ParseValue(halType, raw string) (any, error) {
	switch halType {
	case "bit":
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bit value %q", raw)
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", raw)
		}
		return f, nil
	case "s32", "u32":
		base := 10
		digits := raw
		if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
			base = 16
			digits = raw[2:]
		}
		n, err := strconv.ParseInt(digits, base, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", halType, raw)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown pin type %q", halType)
}

// FormatValue renders a value the way setp expects it
func FormatValue(halType string, v any) (string, error) {
	switch halType {
	case "bit":
		b, err := channel.ToBool(v)
		if err != nil {
			return "", err
		}
		if b {
			return "1", nil
		}
		return "0", nil
	case "float":
		f, err := channel.ToFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case "s32", "u32":
		n, err := channel.ToInt(v)
		if err != nil {
			return "", err
		}
		if halType == "u32" && n < 0 {
			return "", fmt.Errorf("u32 pin cannot hold %d", n)
		}
		return strconv.Itoa(n), nil
	}
	return channel.FormatValue(v), nil
}
