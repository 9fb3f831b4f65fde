package automation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/beacon/internal/device"
)

// Kind is the discriminator written to the "type" field of every node.
type Kind string

// Node kinds.
const (
	KindStatic      Kind = "static"
	KindDeviceState Kind = "device-state"
	KindComparison  Kind = "comparison"
	KindCondition   Kind = "condition"
)

// Node is one element of a condition tree. The concrete types are Static,
// DeviceState, Comparison and Condition.
type Node interface {
	Kind() Kind
	isNode()
}

// Static is a literal value.
type Static struct {
	Value any
}

// DeviceState is the current value of a device contact.
type DeviceState struct {
	Target device.DeviceTarget
}

// Comparison compares two value nodes.
type Comparison struct {
	Operator CompareOp
	Left     Node
	Right    Node
}

// Condition combines boolean nodes.
type Condition struct {
	Operator LogicOp
	Operands []Node
}

func (Static) Kind() Kind      { return KindStatic }
func (DeviceState) Kind() Kind { return KindDeviceState }
func (Comparison) Kind() Kind  { return KindComparison }
func (Condition) Kind() Kind   { return KindCondition }

func (Static) isNode()      {}
func (DeviceState) isNode() {}
func (Comparison) isNode()  {}
func (Condition) isNode()   {}

// CompareOp is a comparison operator.
type CompareOp string

// Comparison operators.
const (
	OpEquals         CompareOp = "equals"
	OpNotEquals      CompareOp = "notEquals"
	OpGreater        CompareOp = "greater"
	OpGreaterOrEqual CompareOp = "greaterOrEqual"
	OpLess           CompareOp = "less"
	OpLessOrEqual    CompareOp = "lessOrEqual"
)

var compareOps = map[string]CompareOp{
	"equals":         OpEquals,
	"notequals":      OpNotEquals,
	"greater":        OpGreater,
	"greaterorequal": OpGreaterOrEqual,
	"less":           OpLess,
	"lessorequal":    OpLessOrEqual,
}

// ParseCompareOp resolves an operator name case-insensitively.
func ParseCompareOp(s string) (CompareOp, error) {
	if op, ok := compareOps[strings.ToLower(s)]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: comparison %q", ErrUnknownOperator, s)
}

// LogicOp is a boolean combinator.
type LogicOp string

// Combinators.
const (
	OpAnd LogicOp = "and"
	OpOr  LogicOp = "or"
	OpNot LogicOp = "not"
)

// ParseLogicOp resolves a combinator name case-insensitively.
func ParseLogicOp(s string) (LogicOp, error) {
	switch LogicOp(strings.ToLower(s)) {
	case OpAnd:
		return OpAnd, nil
	case OpOr:
		return OpOr, nil
	case OpNot:
		return OpNot, nil
	}
	return "", fmt.Errorf("%w: combinator %q", ErrUnknownOperator, s)
}

// MarshalJSON writes the node with its "type" discriminator.
func (n Static) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  Kind `json:"type"`
		Value any  `json:"value"`
	}{KindStatic, n.Value})
}

// MarshalJSON writes the node with its "type" discriminator.
func (n DeviceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   Kind                `json:"type"`
		Target device.DeviceTarget `json:"target"`
	}{KindDeviceState, n.Target})
}

// MarshalJSON writes the node with its "type" discriminator.
func (n Comparison) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Kind      `json:"type"`
		Operator CompareOp `json:"operator"`
		Left     Node      `json:"left"`
		Right    Node      `json:"right"`
	}{KindComparison, n.Operator, n.Left, n.Right})
}

// MarshalJSON writes the node with its "type" discriminator.
func (n Condition) MarshalJSON() ([]byte, error) {
	operands := n.Operands
	if operands == nil {
		operands = []Node{}
	}
	return json.Marshal(struct {
		Type     Kind    `json:"type"`
		Operator LogicOp `json:"operator"`
		Operands []Node  `json:"operands"`
	}{KindCondition, n.Operator, operands})
}

// UnmarshalNode decodes a condition document. A null document yields a nil
// Node. Objects carrying "type" are decoded as that kind; objects without it
// are matched structurally by bestMatch; bare scalars are Static values.
func UnmarshalNode(data []byte) (Node, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return nodeFromAny(raw)
}

func nodeFromAny(raw any) (Node, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		t, tagged := v["type"]
		if !tagged {
			return bestMatch(v)
		}
		kind, _ := t.(string)
		fields := make(map[string]any, len(v)-1)
		for k, val := range v {
			if k != "type" {
				fields[k] = val
			}
		}
		decode, ok := decoders[Kind(kind)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown type %v", ErrInvalidCondition, t)
		}
		return decode(fields)
	case []any:
		return nil, fmt.Errorf("%w: unexpected array", ErrInvalidCondition)
	default:
		return Static{Value: v}, nil
	}
}

type nodeDecoder func(fields map[string]any) (Node, error)

var decoders map[Kind]nodeDecoder

// matchOrder is the priority bestMatch tries untagged objects in. Shapes
// with more required fields come first so that a looser shape never claims
// a document meant for a stricter one.
var matchOrder = []Kind{KindComparison, KindCondition, KindDeviceState, KindStatic}

func init() {
	decoders = map[Kind]nodeDecoder{
		KindStatic:      decodeStatic,
		KindDeviceState: decodeDeviceState,
		KindComparison:  decodeComparison,
		KindCondition:   decodeCondition,
	}
}

// bestMatch tries each kind in matchOrder and returns the first that decodes
// the object without unused or missing fields.
func bestMatch(fields map[string]any) (Node, error) {
	for _, kind := range matchOrder {
		if n, err := decoders[kind](fields); err == nil {
			return n, nil
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	return nil, fmt.Errorf("%w: no node kind matches keys %v", ErrInvalidCondition, keys)
}

// strictDecode decodes fields into out, rejecting unknown keys and
// requiring every key in required. A required key may hold null.
func strictDecode(fields map[string]any, out any, required ...string) error {
	for _, k := range required {
		if !hasKey(fields, k) {
			return fmt.Errorf("missing field %q", k)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
		MatchName:   strings.EqualFold,
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}

func hasKey(fields map[string]any, key string) bool {
	for k := range fields {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

type staticShape struct {
	Value any `mapstructure:"value"`
}

type targetShape struct {
	Channel    string `mapstructure:"channel"`
	Identifier string `mapstructure:"identifier"`
	Contact    string `mapstructure:"contact"`
}

type deviceStateShape struct {
	Target map[string]any `mapstructure:"target"`
}

type comparisonShape struct {
	Operator string `mapstructure:"operator"`
	Left     any    `mapstructure:"left"`
	Right    any    `mapstructure:"right"`
}

type conditionShape struct {
	Operator string `mapstructure:"operator"`
	Operands []any  `mapstructure:"operands"`
}

func decodeStatic(fields map[string]any) (Node, error) {
	var s staticShape
	if err := strictDecode(fields, &s, "value"); err != nil {
		return nil, fmt.Errorf("%w: static: %v", ErrInvalidCondition, err)
	}
	return Static{Value: s.Value}, nil
}

func decodeDeviceState(fields map[string]any) (Node, error) {
	var s deviceStateShape
	if err := strictDecode(fields, &s, "target"); err != nil {
		return nil, fmt.Errorf("%w: device-state: %v", ErrInvalidCondition, err)
	}
	var t targetShape
	if err := strictDecode(s.Target, &t, "channel", "identifier", "contact"); err != nil {
		return nil, fmt.Errorf("%w: device-state target: %v", ErrInvalidCondition, err)
	}
	target := device.DeviceTarget{Channel: t.Channel, Identifier: t.Identifier, Contact: t.Contact}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return DeviceState{Target: target}, nil
}

func decodeComparison(fields map[string]any) (Node, error) {
	var s comparisonShape
	if err := strictDecode(fields, &s, "operator", "left", "right"); err != nil {
		return nil, fmt.Errorf("%w: comparison: %v", ErrInvalidCondition, err)
	}
	op, err := ParseCompareOp(s.Operator)
	if err != nil {
		return nil, err
	}
	left, err := nodeFromAny(s.Left)
	if err != nil {
		return nil, fmt.Errorf("comparison left: %w", err)
	}
	right, err := nodeFromAny(s.Right)
	if err != nil {
		return nil, fmt.Errorf("comparison right: %w", err)
	}
	if left == nil {
		left = Static{}
	}
	if right == nil {
		right = Static{}
	}
	return Comparison{Operator: op, Left: left, Right: right}, nil
}

func decodeCondition(fields map[string]any) (Node, error) {
	var s conditionShape
	if err := strictDecode(fields, &s, "operator", "operands"); err != nil {
		return nil, fmt.Errorf("%w: condition: %v", ErrInvalidCondition, err)
	}
	op, err := ParseLogicOp(s.Operator)
	if err != nil {
		return nil, err
	}
	operands := make([]Node, 0, len(s.Operands))
	for i, raw := range s.Operands {
		n, err := nodeFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		if n == nil {
			return nil, fmt.Errorf("%w: operand %d is null", ErrInvalidCondition, i)
		}
		operands = append(operands, n)
	}
	return Condition{Operator: op, Operands: operands}, nil
}
