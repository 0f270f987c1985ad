package protocol

import (
	"encoding/json"
	"fmt"
)

// InstructionName discriminates instruction contents on the wire.
type InstructionName string

const (
	InstructionSyncRobotName  InstructionName = "sync_robot_name"
	InstructionFetchNetwork   InstructionName = "fetch_network"
	InstructionUpdateMetadata InstructionName = "update_metadata"

	// InstructionUnknown marks an unrecognized instruction tag.
	InstructionUnknown InstructionName = ""
)

// InstructionContent is the inner tagged union of an instruction payload,
// keyed by the "instruction" field. Per-variant payloads live under
// "message". Unrecognized tags are preserved verbatim.
type InstructionContent struct {
	Name    InstructionName
	Message json.RawMessage

	raw json.RawMessage
}

type instructionWire struct {
	Instruction string          `json:"instruction"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// MarshalJSON emits the tagged wire form, or the preserved original JSON
// for unknown instructions.
func (c InstructionContent) MarshalJSON() ([]byte, error) {
	if c.Name == InstructionUnknown {
		if len(c.raw) == 0 {
			return nil, fmt.Errorf("unknown instruction with no preserved content")
		}
		return c.raw, nil
	}
	return json.Marshal(instructionWire{Instruction: string(c.Name), Message: c.Message})
}

// UnmarshalJSON decodes the tagged union, preserving unknown tags.
func (c *InstructionContent) UnmarshalJSON(data []byte) error {
	var wire instructionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch InstructionName(wire.Instruction) {
	case InstructionSyncRobotName, InstructionFetchNetwork, InstructionUpdateMetadata:
		c.Name = InstructionName(wire.Instruction)
		c.Message = wire.Message
		c.raw = nil
	default:
		c.Name = InstructionUnknown
		c.Message = nil
		c.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// SyncRobotNameMessage is the payload of a sync_robot_name instruction.
type SyncRobotNameMessage struct {
	RobotName string `json:"robot_name"`
}

// NewSyncRobotNameContent builds the wire content for sync_robot_name.
func NewSyncRobotNameContent(robotName string) (InstructionContent, error) {
	msg, err := json.Marshal(SyncRobotNameMessage{RobotName: robotName})
	if err != nil {
		return InstructionContent{}, err
	}
	return InstructionContent{Name: InstructionSyncRobotName, Message: msg}, nil
}

// NewFetchNetworkContent builds the wire content for fetch_network.
func NewFetchNetworkContent() InstructionContent {
	return InstructionContent{Name: InstructionFetchNetwork}
}

// NewUpdateMetadataContent builds the wire content for update_metadata.
func NewUpdateMetadataContent() InstructionContent {
	return InstructionContent{Name: InstructionUpdateMetadata}
}
