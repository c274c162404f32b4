package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ControlCommandKind enumerates the commands accepted on the control input.
// The numeric values match the ordinals used on the wire.
type ControlCommandKind int

const (
	CommandReset       ControlCommandKind = 0
	CommandNoOperation ControlCommandKind = 1
)

func (k ControlCommandKind) String() string {
	switch k {
	case CommandReset:
		return "Reset"
	case CommandNoOperation:
		return "NoOperation"
	}
	return fmt.Sprintf("ControlCommandKind(%d)", int(k))
}

func (k ControlCommandKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the command name in any case or its ordinal.
func (k *ControlCommandKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "reset":
			*k = CommandReset
		case "nooperation":
			*k = CommandNoOperation
		default:
			return fmt.Errorf("unknown control command %q", name)
		}
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("control command must be a string or integer: %s", data)
	}
	switch ControlCommandKind(n) {
	case CommandReset, CommandNoOperation:
		*k = ControlCommandKind(n)
		return nil
	}
	return fmt.Errorf("unknown control command %d", n)
}

// ControlCommand is one entry of a control message.
type ControlCommand struct {
	Command ControlCommandKind `json:"command"`
}

// ErrMissingCommand is returned for control objects without a "command" key.
var ErrMissingCommand = errors.New("control command: missing \"command\"")

type wireCommand struct {
	Command *ControlCommandKind `json:"command"`
}

func (w wireCommand) toCommand() (ControlCommand, error) {
	if w.Command == nil {
		return ControlCommand{}, ErrMissingCommand
	}
	return ControlCommand{Command: *w.Command}, nil
}

// DecodeControlCommands parses a control payload. The array form is tried
// first; when the payload has the wrong shape for an array it is decoded as a
// single command object instead.
func DecodeControlCommands(payload []byte) ([]ControlCommand, error) {
	trimmed := bytes.TrimSpace(payload)

	var list []wireCommand
	err := json.Unmarshal(trimmed, &list)
	if err == nil {
		out := make([]ControlCommand, 0, len(list))
		for i, w := range list {
			cmd, err := w.toCommand()
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, cmd)
		}
		return out, nil
	}

	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field != "" {
		return nil, fmt.Errorf("decode control commands: %w", err)
	}

	var single wireCommand
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("decode control command: %w", err)
	}
	cmd, err := single.toCommand()
	if err != nil {
		return nil, err
	}
	return []ControlCommand{cmd}, nil
}
