package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/clinalytics/chf-pipeline/pkg/cache"
	"github.com/clinalytics/chf-pipeline/pkg/cohort"
	"github.com/clinalytics/chf-pipeline/pkg/common/config"
	"github.com/clinalytics/chf-pipeline/pkg/common/database"
	"github.com/clinalytics/chf-pipeline/pkg/common/logger"
	"github.com/clinalytics/chf-pipeline/pkg/engine"
	"github.com/clinalytics/chf-pipeline/pkg/features"
	"github.com/clinalytics/chf-pipeline/pkg/notify"
	"github.com/clinalytics/chf-pipeline/pkg/reports"
)

const (
	optLogLevel = "ll"
	optConfig   = "config"
	optNoCache  = "no-cache"
)

func main() {
	app := cli.NewApp()
	app.Name = "chfctl"
	app.Usage = "heart-failure treatment analysis pipeline"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  optLogLevel,
			Value: "info",
			Usage: "log level (debug, info, warn, error)",
		},
		cli.StringFlag{
			Name:  optConfig,
			Usage: "pipeline configuration file (YAML); defaults apply when omitted",
		},
		cli.BoolFlag{
			Name:  optNoCache,
			Usage: "recompute every stage instead of reading the stage cache (build-engine, run-analysis)",
		},
	}

	app.Before = func(c *cli.Context) error {
		logger.Init()
		logger.SetLevel(c.GlobalString(optLogLevel))
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "clean",
			Usage:  "delete the stage cache, the persisted model and the report directory",
			Action: runClean,
		},
		{
			Name:   "build-features",
			Usage:  "extract the cohort and rebuild the training table, refreshing the stage cache",
			Action: runBuildFeatures,
		},
		{
			Name:   "build-engine",
			Usage:  "fit the decision engine and persist it",
			Action: runBuildEngine,
		},
		{
			Name:   "run-analysis",
			Usage:  "score the cohort with the fitted engine and write the report files",
			Action: runAnalysis,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.WithError(err).Fatal("command failed")
	}
}

type env struct {
	cfg      *config.Config
	pipeline *config.Pipeline
	store    cache.Store
}

func setup(c *cli.Context) (*env, error) {
	cfg := config.Load()

	pipeline := config.DefaultPipeline()
	if path := c.GlobalString(optConfig); path != "" {
		loaded, err := config.LoadPipeline(path)
		if err != nil {
			return nil, fmt.Errorf("load pipeline config: %w", err)
		}
		pipeline = loaded
	}

	var store cache.Store
	switch cfg.CacheBackend {
	case "redis":
		store = cache.NewRedisStore(database.GetRedis(), "chf-pipeline")
	default:
		store = cache.NewFileStore(cfg.CacheDir)
	}

	return &env{cfg: cfg, pipeline: pipeline, store: store}, nil
}

func newBuilder(e *env) (*features.Builder, error) {
	db, err := database.GetPostgres()
	if err != nil {
		return nil, fmt.Errorf("connect to cohort database: %w", err)
	}
	repo := cohort.NewRepository(db, e.pipeline.DiagnosisCode)
	return features.NewBuilder(repo, e.store, e.pipeline), nil
}

func runClean(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if err := e.store.Purge(ctx); err != nil {
		return fmt.Errorf("purge stage cache: %w", err)
	}
	if err := engine.NewModelCache(e.cfg.ModelPath).Invalidate(); err != nil {
		return err
	}
	if err := reports.Clean(e.cfg.ResultsDir); err != nil {
		return fmt.Errorf("clean report dir: %w", err)
	}
	logger.Log.Info("cache, model and reports removed")
	return nil
}

func runBuildFeatures(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	builder, err := newBuilder(e)
	if err != nil {
		return err
	}
	ctx := context.Background()

	// build-features never reads prior stage results. It leaves a fresh
	// cache behind for the later commands.
	records, err := builder.TrainingData(ctx, false)
	if err != nil {
		return err
	}
	logger.WithField("records", len(records)).Info("training table ready")

	producer := notify.NewProducer(e.cfg.KafkaBrokers, e.cfg.KafkaTopic)
	defer producer.Close()
	producer.PublishStage(ctx, "features-built", map[string]interface{}{
		"records": len(records),
	})
	return nil
}

func runBuildEngine(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	builder, err := newBuilder(e)
	if err != nil {
		return err
	}
	ctx := context.Background()

	records, err := builder.TrainingData(ctx, !c.GlobalBool(optNoCache))
	if err != nil {
		return err
	}

	eng := engine.New(e.pipeline)
	if err := eng.Fit(records); err != nil {
		return fmt.Errorf("fit decision engine: %w", err)
	}
	if err := engine.NewModelCache(e.cfg.ModelPath).Save(eng); err != nil {
		return fmt.Errorf("persist decision engine: %w", err)
	}
	logger.WithField("path", e.cfg.ModelPath).Info("decision engine persisted")

	// Run history is best effort; the fitted model on disk is the artifact
	// that matters.
	if db, err := database.GetPostgres(); err == nil {
		repo := engine.NewRunRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Warn("failed to migrate run history table")
		} else {
			run := &engine.RunModel{
				Records:    len(records),
				Treatments: len(eng.Treatments()),
				Metrics:    engine.RunMetrics(eng),
				ModelPath:  e.cfg.ModelPath,
			}
			if err := repo.Create(ctx, run); err != nil {
				logger.Log.WithError(err).Warn("failed to record engine run")
			}
		}
	}

	producer := notify.NewProducer(e.cfg.KafkaBrokers, e.cfg.KafkaTopic)
	defer producer.Close()
	producer.PublishStage(ctx, "engine-built", map[string]interface{}{
		"records":    len(records),
		"treatments": len(eng.Treatments()),
	})
	return nil
}

func runAnalysis(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	builder, err := newBuilder(e)
	if err != nil {
		return err
	}
	ctx := context.Background()

	eng, ok, err := engine.NewModelCache(e.cfg.ModelPath).Load()
	if err != nil {
		return fmt.Errorf("load decision engine: %w", err)
	}
	if !ok {
		return fmt.Errorf("no fitted engine at %s; run build-engine first", e.cfg.ModelPath)
	}

	records, err := builder.TrainingData(ctx, !c.GlobalBool(optNoCache))
	if err != nil {
		return err
	}

	analyzer, err := engine.NewAnalyzer(eng, records)
	if err != nil {
		return err
	}
	if err := analyzer.WriteReports(e.cfg.ResultsDir); err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	logger.WithField("dir", e.cfg.ResultsDir).Info("analysis reports written")

	producer := notify.NewProducer(e.cfg.KafkaBrokers, e.cfg.KafkaTopic)
	defer producer.Close()
	producer.PublishStage(ctx, "analysis-complete", map[string]interface{}{
		"records":          len(records),
		"percent_matching": analyzer.PercentMatching(),
	})
	return nil
}
