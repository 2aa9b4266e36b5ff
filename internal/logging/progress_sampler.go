package logging

// ProgressSampler suppresses repetitive progress logs. It emits when a 0..1
// fraction crosses a bucket boundary, when the phase changes, or on
// completion.
type ProgressSampler struct {
	bucketSize float64
	lastPhase  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width as a
// fraction of the whole. Non-positive widths default to 0.1.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 || bucketSize > 1 {
		bucketSize = 0.1
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress value should be logged. Negative
// values mean unknown and only phase changes emit for them.
func (s *ProgressSampler) ShouldLog(fraction float64, phase string) bool {
	if s == nil {
		return true
	}
	emit := false
	if phase != s.lastPhase {
		s.lastPhase = phase
		s.lastBucket = -1
		emit = true
	}
	if fraction < 0 {
		return emit
	}
	if fraction > 1 {
		fraction = 1
	}
	bucket := int(fraction / s.bucketSize)
	if fraction >= 1 {
		bucket = int(1/s.bucketSize) + 1
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastPhase = ""
	s.lastBucket = -1
}
