package gpu

// Share reference-counts device state that several solvers borrow from one
// owner. The state is set up by the first Acquire and torn down by the last
// Release. All holders must use the same Context.
//
// A Share is not safe for concurrent use.
type Share struct {
	ctx  Context
	refs int
}

// Acquire takes a reference, running setup when it is the first one. A
// failed setup leaves no reference behind.
func (s *Share) Acquire(ctx Context, setup func() error) error {
	if s.refs > 0 {
		if ctx != s.ctx {
			return ErrContextMismatch
		}
		s.refs++
		return nil
	}
	if err := setup(); err != nil {
		return err
	}
	s.ctx, s.refs = ctx, 1
	return nil
}

// Release drops a reference, running teardown when it was the last one.
// Without a live reference it does nothing.
func (s *Share) Release(teardown func() error) error {
	if s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	s.ctx = nil
	return teardown()
}

// Refs reports the number of live references.
func (s *Share) Refs() int { return s.refs }
