package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"formledger/api/internal/artifact"
	"formledger/api/internal/authpw"
	"formledger/api/internal/cache"
	"formledger/api/internal/ledger"
	"formledger/api/internal/search"
	"formledger/api/internal/store"
)

type readCache interface {
	GetJSON(context.Context, string, any) error
	SetJSON(context.Context, string, any) error
	Delete(context.Context, ...string) error
}

type submissionIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexSubmission(search.SubmissionRecord)
	DeleteSubmission(string)
}

type passwordHasher interface {
	Hash(string) (string, error)
	Verify(string, string) error
}

type recorder interface {
	LedgerAppended(string)
	NameRetried(string)
	SubmissionCreated()
}

type nopRecorder struct{}

func (nopRecorder) LedgerAppended(string) {}
func (nopRecorder) NameRetried(string)    {}
func (nopRecorder) SubmissionCreated()    {}

// Deps are the optional collaborators of a Service. Nil fields get working defaults:
// no cache, store-only search, no artifacts, bcrypt at its default cost, no metrics.
type Deps struct {
	Cache     readCache
	Search    submissionIndex
	Artifacts artifact.Store
	Hasher    passwordHasher
	Metrics   recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

type Service struct {
	db          store.Database
	templates   store.Collection
	submissions store.Collection
	responses   store.Collection
	fillers     store.Collection
	ledger      *ledger.Ledger
	cache       readCache
	search      submissionIndex
	artifacts   artifact.Store
	hasher      passwordHasher
	metrics     recorder
	logger      *zap.Logger
	now         func() time.Time
}

func New(db store.Database, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, search.NewStoreSearch(db), deps.Logger)
	}
	if deps.Artifacts == nil {
		deps.Artifacts = artifact.Nop{}
	}
	if deps.Hasher == nil {
		deps.Hasher = authpw.NewService(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}

	return &Service{
		db:          db,
		templates:   db.Collection(store.CollTemplates),
		submissions: db.Collection(store.CollSubmissions),
		responses:   db.Collection(store.CollResponses),
		fillers:     db.Collection(store.CollFillerIndex),
		ledger: ledger.New(db,
			ledger.WithRecorder(deps.Metrics),
			ledger.WithLogger(deps.Logger.Named("ledger")),
			ledger.WithClock(deps.Now),
		),
		cache:     deps.Cache,
		search:    deps.Search,
		artifacts: deps.Artifacts,
		hasher:    deps.Hasher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// invalidate drops cached payloads. Failures only cost a stale read until the TTL expires.
func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (s *Service) cached(ctx context.Context, key string, out any) bool {
	err := s.cache.GetJSON(ctx, key, out)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *Service) remember(ctx context.Context, key string, value any) {
	if err := s.cache.SetJSON(ctx, key, value); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
