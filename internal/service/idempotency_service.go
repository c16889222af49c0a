package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore persists idempotency key bindings.
type IdempotencyStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// IdempotencyBinding is what an idempotency key resolves to: the request it
// created and the fingerprint of the submission that created it.
type IdempotencyBinding struct {
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint"`
}

// Matches reports whether a submission with fingerprint may replay b.
func (b *IdempotencyBinding) Matches(fingerprint string) bool {
	return b != nil && b.Fingerprint != "" && b.Fingerprint == fingerprint
}

// SubmissionFingerprint hashes the parts of a submission that identify it.
func SubmissionFingerprint(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyService binds client supplied idempotency keys to request ids so a
// repeated submission resolves to the first request. Store failures are logged
// and treated as a miss.
type IdempotencyService struct {
	store   IdempotencyStore
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewIdempotencyService constructs the service.
func NewIdempotencyService(store IdempotencyStore, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *IdempotencyService {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyService{store: store, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether de-duplication is active.
func (s *IdempotencyService) Enabled() bool {
	return s != nil && s.enabled && s.store != nil
}

// Reserve binds key to binding within scope. When the key is already bound it
// returns the earlier binding; otherwise it returns nil. Callers must compare
// fingerprints before replaying the earlier request.
func (s *IdempotencyService) Reserve(ctx context.Context, scope, key string, binding IdempotencyBinding) *IdempotencyBinding {
	if !s.Enabled() || key == "" {
		return nil
	}
	cacheKey := idempotencyKey(scope, key)
	start := time.Now()

	stored, err := s.store.SetIfAbsent(ctx, cacheKey, binding, s.ttl)
	if err != nil {
		s.metrics.RecordCacheOperation(false, time.Since(start))
		s.logger.Warn("idempotency reserve failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}
	if stored {
		s.metrics.RecordCacheOperation(false, time.Since(start))
		return nil
	}

	var existing IdempotencyBinding
	if err := s.store.Get(ctx, cacheKey, &existing); err != nil {
		s.metrics.RecordCacheOperation(false, time.Since(start))
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("idempotency lookup failed", zap.String("scope", scope), zap.Error(err))
		}
		return nil
	}
	s.metrics.RecordCacheOperation(true, time.Since(start))
	return &existing
}

// Release drops a reservation whose request could not be stored.
func (s *IdempotencyService) Release(ctx context.Context, scope, key string) {
	if !s.Enabled() || key == "" {
		return
	}
	if err := s.store.Delete(ctx, idempotencyKey(scope, key)); err != nil {
		s.logger.Warn("idempotency release failed", zap.String("scope", scope), zap.Error(err))
	}
}

func idempotencyKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}
