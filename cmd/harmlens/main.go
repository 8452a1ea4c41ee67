package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harmlens/harmlens/ledger"
	"github.com/harmlens/harmlens/pipeline"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "harmlens",
		Usage:   "content moderation decision and audit daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"HARMLENS_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite://<path> or postgres://...)",
			Value:   "sqlite://data/harmlens/harmlens.db",
			EnvVars: []string{"HARMLENS_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"HARMLENS_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "scoring-config",
			Usage:   "YAML file with scoring weights and label thresholds",
			EnvVars: []string{"HARMLENS_SCORING_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "keywords-file",
			Usage:   "JSON file with detector keyword sets, merged over the built-in sets",
			EnvVars: []string{"HARMLENS_KEYWORDS_FILE"},
		},
		&cli.StringSliceFlag{
			Name:    "remote-detector",
			Usage:   "use an HTTP classifier for a signal family, as <family>=<url> (repeatable)",
			EnvVars: []string{"HARMLENS_REMOTE_DETECTORS"},
		},
		&cli.StringFlag{
			Name:    "remote-detector-token",
			Usage:   "bearer token sent to remote classifiers",
			EnvVars: []string{"HARMLENS_REMOTE_DETECTOR_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the signal cache; in-process cache when empty",
			EnvVars: []string{"HARMLENS_REDIS_URL"},
		},
		&cli.DurationFlag{
			Name:    "signal-cache-ttl",
			Value:   time.Hour,
			EnvVars: []string{"HARMLENS_SIGNAL_CACHE_TTL"},
		},
		&cli.BoolFlag{
			Name:    "escalation-allow-skip",
			Usage:   "allow escalation status changes which skip intermediate states",
			EnvVars: []string{"HARMLENS_ESCALATION_ALLOW_SKIP"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		analyzeCmd,
		verifyCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":8710",
			EnvVars: []string{"HARMLENS_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8711",
			EnvVars: []string{"HARMLENS_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-password",
			Usage:   "require HTTP basic auth (user 'admin') on mutating endpoints",
			EnvVars: []string{"HARMLENS_ADMIN_PASSWORD"},
		},
		&cli.StringSliceFlag{
			Name:    "webhook-url",
			Usage:   "deliver notifications to a webhook, as [<event>[,<event>...]=]<url> (repeatable)",
			EnvVars: []string{"HARMLENS_WEBHOOK_URLS"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook for child safety, high risk and escalation notifications",
			EnvVars: []string{"HARMLENS_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "notify-queue-size",
			Value:   1000,
			EnvVars: []string{"HARMLENS_NOTIFY_QUEUE_SIZE"},
		},
		&cli.IntFlag{
			Name:    "notify-workers",
			Value:   4,
			EnvVars: []string{"HARMLENS_NOTIFY_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "batch-concurrency",
			Usage:   "maximum analyses run at once for a batch request",
			Value:   8,
			EnvVars: []string{"HARMLENS_BATCH_CONCURRENCY"},
		},
		&cli.StringFlag{
			Name:    "verify-schedule",
			Usage:   "cron schedule for full audit chain verification (empty to disable)",
			Value:   "@hourly",
			EnvVars: []string{"HARMLENS_VERIFY_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:    "sla-schedule",
			Usage:   "cron schedule for the overdue escalation sweep (empty to disable)",
			Value:   "*/15 * * * *",
			EnvVars: []string{"HARMLENS_SLA_SCHEDULE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stdout)

		shutdownTracing, err := setupTracing(cctx.Context, logger)
		if err != nil {
			return err
		}
		defer shutdownTracing()

		dispatcher, err := buildDispatcher(cctx, logger)
		if err != nil {
			return err
		}

		eng, err := buildEngine(cctx, logger, dispatcher)
		if err != nil {
			return err
		}

		srv := NewServer(eng, Config{
			Logger:        logger,
			Bind:          cctx.String("bind"),
			AdminPassword: cctx.String("admin-password"),
			Notify:        dispatcher,
		})

		sched, err := startJobs(eng, logger, cctx.String("verify-schedule"), cctx.String("sla-schedule"))
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "err", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		err = srv.RunAPI()

		<-sched.Stop().Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dispatcher.Close(ctx)
		return err
	},
}

var analyzeCmd = &cli.Command{
	Name:      "analyze",
	ArgsUsage: `<text>`,
	Usage:     "analyze one piece of text (or stdin) and print the result as JSON",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "content-id",
			Usage: "content id to record the analysis under (generated when empty)",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "score and decide without recording anything",
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stderr)

		text := strings.Join(cctx.Args().Slice(), " ")
		if text == "" || text == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(b)
		}

		if cctx.Bool("dry-run") {
			return dryRun(cctx, logger, text)
		}

		eng, err := buildEngine(cctx, logger, nil)
		if err != nil {
			return err
		}
		res, err := eng.Pipeline.Analyze(cctx.Context, pipeline.Submission{
			ContentID: cctx.String("content-id"),
			Text:      text,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var verifyCmd = &cli.Command{
	Name:      "verify",
	ArgsUsage: `[<content-id>]`,
	Usage:     "verify the audit chain, or the chain up to a content item's latest block",
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stderr)

		eng, err := buildEngine(cctx, logger, nil)
		if err != nil {
			return err
		}
		var res *ledger.Verification
		if cid := cctx.Args().First(); cid != "" {
			res, err = eng.Ledger.Verify(cctx.Context, cid)
		} else {
			res, err = eng.Ledger.VerifyChain(cctx.Context)
		}
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Valid {
			return cli.Exit("audit chain verification failed", 2)
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
