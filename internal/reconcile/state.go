package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/surface"
)

// State is the per-session record of what the reconciler has already done to
// its surface. It replaces flags that would otherwise live on the map itself.
type State struct {
	SessionID uuid.UUID

	// CleanupDone is set after the one-time destructive reset.
	CleanupDone bool

	// AgentsInitialized is set after the first agent fetch, successful or not.
	AgentsInitialized bool
	AgentsFetchedAt   time.Time
	Agents            []model.AgentPosition

	// CameraFitted is set once the camera has been fit to the zones.
	CameraFitted bool

	handlers map[string][]surface.HandlerID
}

func newState() *State {
	return &State{
		SessionID: uuid.New(),
		handlers:  make(map[string][]surface.HandlerID),
	}
}

// HasAgents reports whether agent positions were ever fetched successfully.
func (s *State) HasAgents() bool { return !s.AgentsFetchedAt.IsZero() }

// HandlerLayers returns the layer ids with registered handlers.
func (s *State) HandlerLayers() []string {
	ids := make([]string, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	return ids
}

// PassStats counts the surface mutations of one reconcile pass.
type PassStats struct {
	SourcesAdded      int `json:"sources_added" yaml:"sources_added"`
	SourcesUpdated    int `json:"sources_updated" yaml:"sources_updated"`
	SourcesRemoved    int `json:"sources_removed" yaml:"sources_removed"`
	LayersAdded       int `json:"layers_added" yaml:"layers_added"`
	LayersRemoved     int `json:"layers_removed" yaml:"layers_removed"`
	HandlersAdded     int `json:"handlers_added" yaml:"handlers_added"`
	HandlersRemoved   int `json:"handlers_removed" yaml:"handlers_removed"`
	VisibilityUpdates int `json:"visibility_updates" yaml:"visibility_updates"`
	Failures          int `json:"failures" yaml:"failures"`
}

// Structural reports whether the pass added or removed anything.
func (p PassStats) Structural() bool {
	return p.SourcesAdded+p.SourcesRemoved+p.LayersAdded+p.LayersRemoved+
		p.HandlersAdded+p.HandlersRemoved > 0
}

// Stats summarizes the reconciler's activity for the session.
type Stats struct {
	SessionID uuid.UUID `json:"session_id" yaml:"session_id"`
	Passes    int       `json:"passes" yaml:"passes"`
	Last      PassStats `json:"last" yaml:"last"`
	Total     PassStats `json:"total" yaml:"total"`
}

func (p *PassStats) add(o PassStats) {
	p.SourcesAdded += o.SourcesAdded
	p.SourcesUpdated += o.SourcesUpdated
	p.SourcesRemoved += o.SourcesRemoved
	p.LayersAdded += o.LayersAdded
	p.LayersRemoved += o.LayersRemoved
	p.HandlersAdded += o.HandlersAdded
	p.HandlersRemoved += o.HandlersRemoved
	p.VisibilityUpdates += o.VisibilityUpdates
	p.Failures += o.Failures
}
