package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harmlens/harmlens/cachestore"
	"github.com/harmlens/harmlens/detect"
	"github.com/harmlens/harmlens/escalation"
	"github.com/harmlens/harmlens/ledger"
	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/pipeline"
	"github.com/harmlens/harmlens/policy"
	"github.com/harmlens/harmlens/queue"
	"github.com/harmlens/harmlens/robusthttp"
	"github.com/harmlens/harmlens/scoring"
	"github.com/harmlens/harmlens/signals"
	"github.com/harmlens/harmlens/store"

	cli "github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Engine is the wired set of components behind the daemon and the CLI commands.
type Engine struct {
	Pipeline *pipeline.Pipeline
	Ledger   *ledger.Ledger
	Queue    *queue.Queue
	Tracker  *escalation.Tracker
	Content  *store.ContentStore
}

func buildScorer(cctx *cli.Context) (*scoring.Scorer, error) {
	cfg := scoring.DefaultConfig()
	if p := cctx.String("scoring-config"); p != "" {
		var err error
		if cfg, err = scoring.LoadConfig(p); err != nil {
			return nil, err
		}
	}
	return scoring.NewScorer(cfg)
}

func buildAggregator(cctx *cli.Context, logger *slog.Logger) (*signals.Aggregator, error) {
	kw := detect.DefaultKeywords()
	if p := cctx.String("keywords-file"); p != "" {
		if err := kw.LoadFromFileJSON(p); err != nil {
			return nil, fmt.Errorf("loading keywords: %w", err)
		}
	}
	set := detect.RuleSet(kw)
	versionParts := []string{kw.Fingerprint()}

	remotes := cctx.StringSlice("remote-detector")
	if len(remotes) > 0 {
		client := robusthttp.NewClient(robusthttp.WithLogger(logger))
		for _, raw := range remotes {
			fam, url, ok := strings.Cut(raw, "=")
			if !ok {
				return nil, fmt.Errorf("remote detector must be <family>=<url>: %q", raw)
			}
			rd, err := detect.NewRemoteDetector(signals.Family(strings.TrimSpace(fam)), strings.TrimSpace(url), client, logger)
			if err != nil {
				return nil, err
			}
			rd.Token = cctx.String("remote-detector-token")
			// the rule-based detector answers when the classifier can't
			rd.Fallback = set.Replace(rd)
			versionParts = append(versionParts, string(rd.Family())+"="+strings.TrimSpace(url))
			logger.Info("using remote detector", "family", rd.Family(), "url", url)
		}
	}

	agg, err := signals.NewAggregator(logger, set.Detectors()...)
	if err != nil {
		return nil, err
	}

	ttl := cctx.Duration("signal-cache-ttl")
	if ttl > 0 {
		version := cachestore.Version(versionParts...)
		if u := cctx.String("redis-url"); u != "" {
			rc, err := cachestore.NewRedisSignalCache(cctx.Context, u, ttl, version, logger)
			if err != nil {
				return nil, fmt.Errorf("connecting signal cache: %w", err)
			}
			agg.Cache = rc
		} else {
			agg.Cache = cachestore.NewMemSignalCache(50_000, ttl, version, logger)
		}
		logger.Info("caching signal sets", "version", version, "ttl", ttl)
	}
	return agg, nil
}

func buildEngine(cctx *cli.Context, logger *slog.Logger, pub pipeline.Publisher) (*Engine, error) {
	db, err := store.Open(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	eng := &Engine{}
	if eng.Content, err = store.NewContentStore(db); err != nil {
		return nil, err
	}
	if eng.Queue, err = queue.New(db, logger); err != nil {
		return nil, err
	}
	if eng.Ledger, err = ledger.New(db, logger); err != nil {
		return nil, err
	}
	if eng.Tracker, err = escalation.NewTracker(db, eng.Ledger, logger); err != nil {
		return nil, err
	}
	eng.Tracker.AllowSkip = cctx.Bool("escalation-allow-skip")

	scorer, err := buildScorer(cctx)
	if err != nil {
		return nil, err
	}
	agg, err := buildAggregator(cctx, logger)
	if err != nil {
		return nil, err
	}

	eng.Pipeline, err = pipeline.New(pipeline.Config{
		Aggregator:       agg,
		Scorer:           scorer,
		Content:          eng.Content,
		Queue:            eng.Queue,
		Ledger:           eng.Ledger,
		Tracker:          eng.Tracker,
		Publisher:        pub,
		Logger:           logger,
		BatchConcurrency: cctx.Int("batch-concurrency"),
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// parseRoute splits "[<event>,...=]<url>" into event types and url.
func parseRoute(raw string) ([]notify.EventType, string, error) {
	types, url, ok := strings.Cut(raw, "=")
	if !ok || strings.Contains(types, "://") {
		return nil, strings.TrimSpace(raw), nil
	}
	var out []notify.EventType
	for _, t := range strings.Split(types, ",") {
		et := notify.EventType(strings.TrimSpace(t))
		if !et.Valid() {
			return nil, "", fmt.Errorf("unknown notification event type: %q", t)
		}
		out = append(out, et)
	}
	return out, strings.TrimSpace(url), nil
}

func buildDispatcher(cctx *cli.Context, logger *slog.Logger) (*notify.Dispatcher, error) {
	var routes []notify.Route
	for _, raw := range cctx.StringSlice("webhook-url") {
		types, url, err := parseRoute(raw)
		if err != nil {
			return nil, err
		}
		sink, err := notify.NewWebhookSink(url, nil, 5*time.Second)
		if err != nil {
			return nil, err
		}
		routes = append(routes, notify.Route{Sink: sink, Types: types})
	}
	if u := cctx.String("slack-webhook-url"); u != "" {
		sink, err := notify.NewSlackSink(u)
		if err != nil {
			return nil, err
		}
		routes = append(routes, notify.Route{
			Sink:  sink,
			Types: []notify.EventType{notify.EventChildSafety, notify.EventHighRisk, notify.EventEscalation},
		})
	}
	logger.Info("notification routes configured", "count", len(routes))
	return notify.NewDispatcher(notify.Config{
		QueueSize: cctx.Int("notify-queue-size"),
		Workers:   cctx.Int("notify-workers"),
		Logger:    logger,
	}, routes...), nil
}

type dryRunResult struct {
	Signals    signals.Set        `json:"signals"`
	Assessment scoring.Assessment `json:"assessment"`
	Decision   policy.Decision    `json:"decision"`
}

// dryRun scores text without touching the database.
func dryRun(cctx *cli.Context, logger *slog.Logger, text string) error {
	scorer, err := buildScorer(cctx)
	if err != nil {
		return err
	}
	agg, err := buildAggregator(cctx, logger)
	if err != nil {
		return err
	}
	set, err := agg.Collect(cctx.Context, text)
	if err != nil {
		return err
	}
	a, err := scorer.Score(set)
	if err != nil {
		return err
	}
	return printJSON(dryRunResult{
		Signals:    set,
		Assessment: a,
		Decision:   policy.New(scorer.Config()).Decide(a),
	})
}
