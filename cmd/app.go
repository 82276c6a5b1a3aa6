package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/kozaktomas/memento/internal/awsclient"
	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/database/postgres"
	"github.com/kozaktomas/memento/internal/facedir"
	"github.com/kozaktomas/memento/internal/fingerprint"
	"github.com/kozaktomas/memento/internal/lifecycle"
	"github.com/kozaktomas/memento/internal/matcher"
	"github.com/kozaktomas/memento/internal/matcher/rekognition"
	"github.com/kozaktomas/memento/internal/matcher/vector"
	"github.com/kozaktomas/memento/internal/photostore"
)

// app holds the services shared by the commands.
type app struct {
	cfg        *config.Config
	pool       *postgres.Pool
	store      *postgres.Store
	photos     photostore.Store
	gate       *consent.Gate
	matcher    matcher.Matcher
	faces      *facedir.Directory
	controller *lifecycle.Controller
}

// newApp connects to PostgreSQL, applies migrations and builds the matcher,
// photo store and face directory. Close the returned app when done.
func newApp(ctx context.Context, cfg *config.Config, onProgress func(lifecycle.ProgressInfo)) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	log.Printf("Connecting to PostgreSQL database...")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(pool)

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsclient.Load(ctx, cfg.AWS)
			if err != nil {
				return aws.Config{}, err
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	m, err := newMatcher(cfg, pool, loadAWS)
	if err != nil {
		pool.Close()
		return nil, err
	}
	photos, err := newPhotoStore(cfg, loadAWS)
	if err != nil {
		pool.Close()
		return nil, err
	}

	guarded := matcher.WithTimeout(m, cfg.Matcher.Timeout)
	gate := consent.NewGate(store)
	faces := facedir.New(gate, store, photos, store, guarded, facedir.Options{MaxRetries: cfg.Matcher.MaxRetries})
	controller := lifecycle.NewController(store, store, faces, guarded, lifecycle.Options{
		Lookahead:        cfg.Lifecycle.Lookahead,
		CleanupGrace:     cfg.Lifecycle.CleanupGrace,
		Concurrency:      cfg.Lifecycle.Concurrency,
		EventConcurrency: cfg.Lifecycle.EventConcurrency,
		OnProgress:       onProgress,
	})

	return &app{
		cfg:        cfg,
		pool:       pool,
		store:      store,
		photos:     photos,
		gate:       gate,
		matcher:    guarded,
		faces:      faces,
		controller: controller,
	}, nil
}

func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
}

func newMatcher(cfg *config.Config, pool *postgres.Pool, loadAWS func() (aws.Config, error)) (matcher.Matcher, error) {
	switch cfg.Matcher.Provider {
	case config.MatcherRekognition:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		log.Printf("Using AWS Rekognition matcher in %s", cfg.AWS.Region)
		return rekognition.New(awsCfg, rekognition.Options{
			CollectionPrefix: cfg.Matcher.CollectionPrefix,
			Threshold:        cfg.Matcher.Threshold,
			MaxFaces:         cfg.Matcher.SearchLimit,
		}), nil
	case config.MatcherVector:
		if cfg.Embedding.URL == "" {
			return nil, errors.New("EMBEDDING_URL is required for the vector matcher")
		}
		log.Printf("Using pgvector matcher with embeddings from %s", cfg.Embedding.URL)
		return vector.New(
			fingerprint.NewFaceClient(cfg.Embedding.URL, cfg.Embedding.Dim),
			postgres.NewFaceVectorRepository(pool),
			vector.Options{
				CollectionPrefix: cfg.Matcher.CollectionPrefix,
				Threshold:        cfg.Matcher.Threshold,
				MaxFaces:         cfg.Matcher.SearchLimit,
				ANN:              cfg.Matcher.ANNIndex,
				IndexTTL:         cfg.Matcher.IndexTTL,
			},
		), nil
	}
	return nil, fmt.Errorf("unknown matcher provider %q", cfg.Matcher.Provider)
}

func newPhotoStore(cfg *config.Config, loadAWS func() (aws.Config, error)) (photostore.Store, error) {
	if cfg.AWS.S3Bucket == "" {
		log.Printf("Storing profile photos in %s", cfg.PhotoStore.Dir)
		return photostore.NewLocalStore(cfg.PhotoStore.Dir), nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		return nil, err
	}
	log.Printf("Storing profile photos in s3://%s", cfg.AWS.S3Bucket)
	return photostore.NewS3Store(awsCfg, cfg.AWS.S3Bucket, cfg.AWS.S3Endpoint), nil
}
