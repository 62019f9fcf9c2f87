package sync

// Policy holds the mutation flags and retry bound for one run. It is
// immutable for the run's duration.
type Policy struct {
	CreateDirs  bool
	DeleteDirs  bool
	CreateFiles bool
	UpdateFiles bool
	DeleteFiles bool

	// MaxRetries is the number of immediate re-attempts after a failed
	// backend operation, not counting the first attempt. Never negative.
	MaxRetries int
}

// DefaultPolicy mirrors the documented defaults: creates and updates on,
// deletes off, three retries.
func DefaultPolicy() Policy {
	return Policy{
		CreateDirs:  true,
		CreateFiles: true,
		UpdateFiles: true,
		MaxRetries:  3,
	}
}
