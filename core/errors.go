package core

import "fmt"

// InvalidMessageError rejects malformed input before graph entry. It is the
// only error surfaced to the transport adapter as a failed call; everything
// else degrades into a Response instead.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return "invalid message: " + e.Reason
}

// CapabilityError wraps a failed or timed-out external capability call.
// These are recovered locally with a fallback Response and never propagate
// past the engine boundary.
type CapabilityError struct {
	Capability string
	Timeout    bool
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("capability %s timed out: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Memory tiers, used by MemoryStoreError.
const (
	TierShortTerm = "short-term"
	TierLongTerm  = "long-term"
)

// MemoryStoreError wraps a read or write failure on one of the memory
// tiers. Long-term failures are best-effort and swallowed after logging;
// short-term failures terminate the turn with a degraded Response.
type MemoryStoreError struct {
	Tier string
	Op   string
	Err  error
}

func (e *MemoryStoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Tier, e.Op, e.Err)
}

func (e *MemoryStoreError) Unwrap() error { return e.Err }
