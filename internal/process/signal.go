package process

// SignalClass groups terminating signals into the fatal classes the
// harness reports separately.
type SignalClass int

const (
	// SignalOther is any signal without a dedicated outcome.
	SignalOther SignalClass = iota

	// SignalSegv is a segmentation violation (memory access fault).
	SignalSegv

	// SignalAbort is an abort (assertion failure, fail-fast).
	SignalAbort

	// SignalFPE is an arithmetic exception (divide by zero).
	SignalFPE
)

// String returns a string representation of the class.
func (c SignalClass) String() string {
	switch c {
	case SignalSegv:
		return "segv"
	case SignalAbort:
		return "abort"
	case SignalFPE:
		return "fpe"
	default:
		return "other"
	}
}

// Fatal reports whether the class is one of the recognised fatal signals.
func (c SignalClass) Fatal() bool {
	return c != SignalOther
}
