package atomic

// EventKind names a step of the deployment lifecycle.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventPublished EventKind = "published"
	EventFinalized EventKind = "finalized"
	EventCleaned   EventKind = "cleaned"
)

// Event reports a lifecycle step of the deployment Name.
type Event struct {
	Kind EventKind
	Name string
	Path string

	// Removed lists the deployments deleted by an EventCleaned.
	Removed []string
}
