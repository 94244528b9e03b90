package corpus

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"codeguard/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNoSeeds = errors.New("no seeds available")

type CorpusGrabber struct {
	grabbers []Grabber
	logger   *zap.Logger
}

type CorpusGrabberParams struct {
	fx.In

	Logger             *zap.Logger
	DirSeedGrabber     *DirSeedGrabber `optional:"true"`
	DefaultSeedGrabber *DefaultSeedGrabber
}

func NewCorpusGrabber(params CorpusGrabberParams) *CorpusGrabber {
	return &CorpusGrabber{
		grabbers: []Grabber{
			params.DirSeedGrabber,
			params.DefaultSeedGrabber,
		},
		logger: params.Logger.Named("corpus"),
	}
}

// CollectSeeds fills the layout's seed directory. Seeds supplied with the
// request win; otherwise the grabbers are tried in order and the first one
// producing at least one seed stops the chain.
func (s *CorpusGrabber) CollectSeeds(ctx context.Context, layout Layout, requestSeeds [][]byte) (int, error) {
	tracer := telemetry.FromContext(ctx)
	corpusTracer := tracer.Spawn("syncing corpus")
	corpusTracer.Start()
	defer corpusTracer.End()

	added := 0
	for _, seed := range requestSeeds {
		ok, err := layout.WriteSeed(seed)
		if err != nil {
			return added, fmt.Errorf("failed to write request seed: %w", err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		s.logger.Info("using request seeds", zap.Int("seed_count", added))
		corpusTracer.WithAttributes(telemetry.EmptySpanAttributes().WithCorpusSize(added))
		return added, nil
	}

	for _, grabber := range s.grabbers {
		if grabber == nil || reflect.ValueOf(grabber).IsNil() {
			continue
		}
		if err := context.Cause(ctx); err != nil {
			return 0, err
		}
		n, err := grabber.GrabSeeds(ctx, layout)
		if err != nil {
			s.logger.Warn("failed to grab seeds",
				zap.String("grabber", reflect.TypeOf(grabber).String()),
				zap.Error(err))
			corpusTracer.AddEvent("failed_to_grab_seeds", telemetry.EventAttributes{})
			continue
		}
		if n == 0 {
			continue
		}
		s.logger.Info("grabbed seeds",
			zap.String("grabber", reflect.TypeOf(grabber).String()),
			zap.Int("seed_count", n))
		corpusTracer.WithAttributes(telemetry.EmptySpanAttributes().WithCorpusSize(n))
		return n, nil
	}
	return 0, ErrNoSeeds
}
