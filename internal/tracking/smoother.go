package tracking

// Smoother damps solver output with an exponential moving average. A factor
// of 0 disables it and samples pass through unchanged.
//
// factor is the weight kept from the previous output: 0.6 keeps 60% old,
// 40% new.
type Smoother struct {
	factor float32
	prev   *Sample
}

func NewSmoother(factor float32) *Smoother {
	if factor < 0 {
		factor = 0
	}
	if factor >= 1 {
		factor = 0.99
	}
	return &Smoother{factor: factor}
}

func (s *Smoother) Enabled() bool {
	return s.factor > 0
}

// Smooth blends next into the running output. An inactive sample clears the
// history so reacquisition starts from the fresh estimate.
func (s *Smoother) Smooth(next Sample) Sample {
	if !s.Enabled() {
		return next
	}
	if !next.Active {
		s.prev = nil
		return next
	}
	if s.prev == nil {
		out := next.Clone()
		s.prev = &out
		return out.Clone()
	}

	keep := s.factor
	take := 1 - keep

	out := Sample{
		Active:            true,
		ExpressionWeights: make(map[string]float32, len(next.ExpressionWeights)),
		HeadRotation:      s.prev.HeadRotation.Mul(keep).Add(next.HeadRotation.Mul(take)),
		HeadPosition:      s.prev.HeadPosition.Mul(keep).Add(next.HeadPosition.Mul(take)),
		Timestamp:         next.Timestamp,
	}
	for name, w := range next.ExpressionWeights {
		old, ok := s.prev.ExpressionWeights[name]
		if !ok {
			out.ExpressionWeights[name] = w
			continue
		}
		out.ExpressionWeights[name] = old*keep + w*take
	}

	s.prev = &out
	return out.Clone()
}

func (s *Smoother) Reset() {
	s.prev = nil
}
