package model

// Priority is the urgency assigned to a call at intake.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Tier is the ordinal used to order the pending queue. Higher is more urgent.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Tier maps the priority to its queue tier. Unknown priorities map to medium.
func (p Priority) Tier() Tier {
	switch p {
	case PriorityLow:
		return TierLow
	case PriorityHigh:
		return TierHigh
	case PriorityCritical:
		return TierCritical
	default:
		return TierMedium
	}
}

// Promote returns the next tier up, capped at critical.
func (t Tier) Promote() Tier {
	if t >= TierCritical {
		return TierCritical
	}
	return t + 1
}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}
