package printerws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// PrinterState is the printer state reported on the status channel.
type PrinterState int

const (
	StateIdle PrinterState = iota
	StatePrinting
	StateCompleted
	StateFailed
	StateCancelled
	StatePausedOrError
)

var stateNames = [...]string{"idle", "printing", "completed", "failed", "cancelled", "paused_or_error"}

func (s PrinterState) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("invalid(%d)", int(s))
}

// Valid reports whether s is one of the six known states.
func (s PrinterState) Valid() bool {
	return s >= StateIdle && s <= StatePausedOrError
}

// ShouldRecord reports whether video should be captured in state s.
func (s PrinterState) ShouldRecord() bool {
	return s == StatePrinting || s == StatePausedOrError
}

// ErrInvalidMessage is wrapped by every ParseStatus validation failure.
var ErrInvalidMessage = errors.New("invalid status message")

// StatusMessage is a validated status channel record.
type StatusMessage struct {
	State         PrinterState
	PrintFileName string // empty when absent
}

// ParseStatus decodes one status channel message. The payload must be a JSON
// object holding an integer "state" in [0,5]; numeric strings are accepted.
func ParseStatus(data []byte) (StatusMessage, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return StatusMessage{}, fmt.Errorf("%w: not a JSON object", ErrInvalidMessage)
	}

	v, ok := raw["state"]
	if !ok {
		return StatusMessage{}, fmt.Errorf("%w: missing state", ErrInvalidMessage)
	}
	n, err := toInt(v)
	if err != nil {
		return StatusMessage{}, fmt.Errorf("%w: state %v: %v", ErrInvalidMessage, v, err)
	}
	state := PrinterState(n)
	if !state.Valid() {
		return StatusMessage{}, fmt.Errorf("%w: state %d out of range", ErrInvalidMessage, n)
	}

	msg := StatusMessage{State: state}
	switch name := raw["printFileName"].(type) {
	case string:
		msg.PrintFileName = name
	case json.Number:
		msg.PrintFileName = name.String()
	}
	return msg, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampInt(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) {
			return 0, errors.New("not an integer")
		}
		return clampInt(int64(f)), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, errors.New("not an integer")
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// clampInt keeps huge values out of range instead of wrapping into it.
func clampInt(i int64) int {
	if i > math.MaxInt32 || i < math.MinInt32 {
		return -1
	}
	return int(i)
}

var (
	stlName    = regexp.MustCompile(`(?i)([^/]+?)\.stl(?:_|$)`)
	gcodeTrail = regexp.MustCompile(`(?i)\.gcode$`)
)

// ExtractJobName derives a job name from a print file name such as
// "/gcodes/benchy.stl_PLA_1h.gcode". The second result is false when nothing
// usable remains.
func ExtractJobName(file string) (string, bool) {
	name := strings.TrimSpace(file)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "", false
	}

	if m := stlName.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	name = gcodeTrail.ReplaceAllString(name, "")
	return name, name != ""
}
