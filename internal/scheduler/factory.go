package scheduler

import (
	"log/slog"

	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/poller"
	"github.com/odvcencio/issuestream/internal/remote"
)

// PollerDeps are the collaborators shared by every poller.
type PollerDeps struct {
	Client   remote.Client
	Timeline remote.TimelineSource
	Sources  poller.Sources
	Merger   poller.Merger
	Store    poller.CursorStore
	Events   poller.EventSink
	Logger   *slog.Logger
}

// NewPollerFactory returns a Factory building pollers from deps.
func NewPollerFactory(deps PollerDeps) Factory {
	return func(st models.Stream) (Runner, error) {
		builder, err := poller.BuilderFor(st, deps.Sources)
		if err != nil {
			return nil, err
		}
		return poller.New(poller.Config{
			Stream:   st,
			Builder:  builder,
			Client:   deps.Client,
			Timeline: deps.Timeline,
			Merger:   deps.Merger,
			Store:    deps.Store,
			Events:   deps.Events,
			Logger:   deps.Logger,
		}), nil
	}
}
