package automation

import (
	"context"
	"fmt"

	"github.com/nerrad567/beacon/internal/device"
)

// StateReader gives the evaluator read access to live device state.
// *device.StateStore satisfies it.
type StateReader interface {
	GetState(target device.DeviceTarget) (any, bool)
}

// Evaluate resolves node to a boolean. A nil node is always met.
//
// Combinators short-circuit. A value node in boolean position must resolve
// to a bool; anything else is ErrNotBoolean.
func Evaluate(ctx context.Context, node Node, state StateReader) (bool, error) {
	if node == nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch n := node.(type) {
	case Condition:
		return evaluateCondition(ctx, n, state)
	case Comparison:
		return evaluateComparison(ctx, n, state)
	default:
		v, err := Resolve(ctx, node, state)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("%w: %s resolved to %v", ErrNotBoolean, node.Kind(), v)
		}
		return b, nil
	}
}

// Resolve returns the value of node. Unknown device state resolves to nil;
// comparisons and conditions resolve to their boolean result.
func Resolve(ctx context.Context, node Node, state StateReader) (any, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil
	case Static:
		return device.ParseValue(n.Value), nil
	case DeviceState:
		v, ok := state.GetState(n.Target)
		if !ok {
			return nil, nil
		}
		return device.ParseValue(v), nil
	case Comparison, Condition:
		return Evaluate(ctx, node, state)
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidCondition, node)
	}
}

func evaluateCondition(ctx context.Context, c Condition, state StateReader) (bool, error) {
	switch c.Operator {
	case OpAnd:
		for _, op := range c.Operands {
			ok, err := Evaluate(ctx, op, state)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, op := range c.Operands {
			ok, err := Evaluate(ctx, op, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		if len(c.Operands) != 1 {
			return false, fmt.Errorf("%w: not takes one operand, got %d", ErrInvalidCondition, len(c.Operands))
		}
		ok, err := Evaluate(ctx, c.Operands[0], state)
		return !ok && err == nil, err
	default:
		return false, fmt.Errorf("%w: combinator %q", ErrUnknownOperator, c.Operator)
	}
}

func evaluateComparison(ctx context.Context, c Comparison, state StateReader) (bool, error) {
	left, err := Resolve(ctx, c.Left, state)
	if err != nil {
		return false, err
	}
	right, err := Resolve(ctx, c.Right, state)
	if err != nil {
		return false, err
	}
	return compare(c.Operator, left, right)
}

// compare applies op to two parsed values. Numbers compare numerically;
// other values only support equality. Ordering against a missing value is
// false rather than an error, since state may simply not be known yet.
func compare(op CompareOp, left, right any) (bool, error) {
	switch op {
	case OpEquals:
		return device.ValuesEqual(left, right), nil
	case OpNotEquals:
		return !device.ValuesEqual(left, right), nil
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
	default:
		return false, fmt.Errorf("%w: comparison %q", ErrUnknownOperator, op)
	}

	if left == nil || right == nil {
		return false, nil
	}
	l, lok := left.(float64)
	r, rok := right.(float64)
	if !lok || !rok {
		return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, left, op, right)
	}

	switch op {
	case OpGreater:
		return l > r, nil
	case OpGreaterOrEqual:
		return l >= r, nil
	case OpLess:
		return l < r, nil
	default:
		return l <= r, nil
	}
}
