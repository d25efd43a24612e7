package prox

import (
	"fmt"
	"slices"
)

// Handle identifies an operator owned by an Arena.
type Handle int

// Arena owns the proximal operators of a problem. Backends borrow operators
// through handles between their Initialize and Release and never outlive
// the arena's ownership.
type Arena struct {
	ops []Operator
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add transfers ownership of op to the arena.
func (a *Arena) Add(op Operator) Handle {
	a.ops = append(a.ops, op)
	return Handle(len(a.ops) - 1)
}

// Len returns the number of owned operators.
func (a *Arena) Len() int {
	return len(a.ops)
}

// Get resolves a handle.
func (a *Arena) Get(h Handle) (Operator, error) {
	if a == nil || h < 0 || int(h) >= len(a.ops) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return a.ops[h], nil
}

// Resolve returns the operators behind hs in order.
func (a *Arena) Resolve(hs []Handle) ([]Operator, error) {
	ops := make([]Operator, 0, len(hs))
	for _, h := range hs {
		op, err := a.Get(h)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ValidatePartition checks that the ranges of ops cover [0, n) exactly once.
func ValidatePartition(ops []Operator, n int) error {
	sorted := slices.Clone(ops)
	slices.SortFunc(sorted, func(a, b Operator) int {
		return a.Index() - b.Index()
	})

	next := 0
	for _, op := range sorted {
		start, end := op.Index(), op.Index()+op.Size()
		switch {
		case op.Size() <= 0 || start < 0:
			return fmt.Errorf("%w: [%d, %d)", ErrInvalidBlock, start, end)
		case end > n:
			return fmt.Errorf("%w: [%d, %d) in vector of length %d", ErrRangeExceeds, start, end, n)
		case start < next:
			return fmt.Errorf("%w: [%d, %d) starts before %d", ErrPartitionOverlap, start, end, next)
		case start > next:
			return fmt.Errorf("%w: [%d, %d) uncovered", ErrPartitionGap, next, start)
		}
		next = end
	}
	if next != n {
		return fmt.Errorf("%w: [%d, %d) uncovered", ErrPartitionGap, next, n)
	}
	return nil
}
