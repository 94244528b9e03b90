package corpus

import (
	"context"

	"go.uber.org/fx"
)

type Grabber interface {
	// GrabSeeds writes seeds into layout and returns how many were added.
	GrabSeeds(ctx context.Context, layout Layout) (int, error)
}

var CorpusGrabbersModule = fx.Options(
	fx.Provide(NewCorpusGrabber),
	fx.Provide(NewDirSeedGrabber),
	fx.Provide(NewDefaultSeedGrabber),
)
