// Package archive copies session outcomes to the optional external sinks:
// a Redis status mirror, a Postgres findings table and a RabbitMQ queue.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"codeguard/config"
	"codeguard/internal/service"
	"codeguard/internal/session"
	"codeguard/internal/types"
	"codeguard/pkg/database"
	"codeguard/pkg/mq"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sinkTimeout = 5 * time.Second

// ReportMessage is the body published for every completed session.
type ReportMessage struct {
	SessionID  string                      `json:"session_id"`
	SourcePath string                      `json:"source_path"`
	Reports    []types.VulnerabilityReport `json:"reports"`
}

type Recorder struct {
	logger    *zap.Logger
	retention time.Duration
	statuses  StatusStore
	findings  FindingStore
	publisher Publisher
}

type RecorderParams struct {
	fx.In

	Logger *zap.Logger
	Config *config.AppConfig
	DB     *gorm.DB      `optional:"true"`
	Redis  *redis.Client `optional:"true"`
	MQ     mq.RabbitMQ   `optional:"true"`
}

func NewRecorder(p RecorderParams) *Recorder {
	var publisher Publisher
	if p.MQ != nil {
		publisher = p.MQ
	}
	return New(p.Logger, p.Config.SessionConfig.RetentionWindow,
		NewRedisStatusStore(p.Redis), NewGormFindingStore(p.DB), publisher)
}

// New accepts nil sinks; a Recorder without any sink does nothing.
func New(logger *zap.Logger, retention time.Duration, statuses StatusStore, findings FindingStore, publisher Publisher) *Recorder {
	r := &Recorder{
		logger:    logger.Named("archive"),
		retention: retention,
		statuses:  statuses,
		findings:  findings,
		publisher: publisher,
	}
	r.logger.Debug("archive sinks",
		zap.Bool("status_mirror", statuses != nil),
		zap.Bool("findings", findings != nil),
		zap.Bool("publisher", publisher != nil))
	return r
}

func (r *Recorder) OnTransition(ctx context.Context, prev, next session.Session) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	logger := r.logger.With(zap.String("session_id", next.ID), zap.String("state", string(next.State)))

	if r.statuses != nil {
		if err := r.mirror(ctx, next); err != nil {
			logger.Warn("failed to mirror session status", zap.Error(err))
		}
	}

	if next.State != session.Completed {
		return
	}

	if r.findings != nil {
		if err := r.findings.AddFindings(ctx, Findings(next)); err != nil {
			logger.Error("failed to store findings", zap.Error(err))
		} else {
			logger.Debug("findings stored", zap.Int("count", len(next.Result)))
		}
	}

	if r.publisher != nil {
		body, err := json.Marshal(ReportMessage{SessionID: next.ID, SourcePath: next.SourcePath, Reports: next.Result})
		if err != nil {
			logger.Error("failed to marshal report message", zap.Error(err))
			return
		}
		if err := r.publisher.Publish(ctx, mq.ReportQueue, body); err != nil {
			logger.Error("failed to publish reports", zap.Error(err))
			return
		}
		logger.Info("reports published", zap.String("queue", mq.ReportQueue), zap.Int("count", len(next.Result)))
	}
}

func (r *Recorder) mirror(ctx context.Context, s session.Session) error {
	status, err := json.Marshal(service.StatusOf(s))
	if err != nil {
		return err
	}
	// running sessions live until they end; ended ones for the retention window
	var ttl time.Duration
	if s.State.Terminal() {
		ttl = r.retention
	}
	return r.statuses.Put(ctx, s.ID, status, ttl)
}

// Findings converts the result of a completed session into table rows.
func Findings(s session.Session) []*database.Finding {
	findings := make([]*database.Finding, 0, len(s.Result))
	for _, report := range s.Result {
		confirmed := make(database.StringList, 0, len(report.ConfirmedBy))
		for _, kind := range report.ConfirmedBy {
			confirmed = append(confirmed, string(kind))
		}
		findings = append(findings, &database.Finding{
			SessionID:      s.ID,
			ReportID:       report.ID,
			SourcePath:     s.SourcePath,
			Line:           report.Line,
			CweID:          report.CweID,
			CweDescription: report.CweDescription,
			Severity:       string(report.Severity),
			Confidence:     report.Probability,
			Signal:         report.Signal,
			ConfirmedBy:    confirmed,
			CrashInputs:    database.StringList(report.CrashInputs),
			Description:    report.Message,
		})
	}
	return findings
}
