package engine

// Decision is the admission pipeline's verdict for one candidate.
type Decision string

const (
	Admitted            Decision = "admitted"
	RejectedOptedOut    Decision = "opted_out"
	RejectedQuietHours  Decision = "quiet_hours"
	RejectedRateLimited Decision = "rate_limited"
	RejectedDuplicate   Decision = "duplicate"
)
