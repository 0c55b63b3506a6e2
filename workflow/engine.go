package workflow

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/threadworks/erp_backend/workflow")

// Engine runs every operation that writes the inventory ledgers.
type Engine struct {
	DB       *gorm.DB
	Locker   Locker
	Logger   *logrus.Logger
	Settings config.Settings
}

// NewEngine wires an engine to the global database, Redis and logger. Without
// a Redis client the posting locks are process-local.
func NewEngine(settings config.Settings) *Engine {
	var locker Locker = NewLocalLocker()
	if client := config.GetRedisLock(); client != nil {
		locker = NewRedisLocker(client, settings.PostingLockTTL)
	}
	return &Engine{
		DB:       config.GetDB(),
		Locker:   locker,
		Logger:   config.GetLogger(),
		Settings: settings,
	}
}

func requireTenant(ctx context.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return "", models.ErrTenantRequired
	}
	return tenantId, nil
}

func actor(ctx context.Context) string {
	if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		return name
	}
	return "system"
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// post runs fn in one transaction while holding the posting locks of keys.
// The locks are released only after commit or rollback.
func (e *Engine) post(ctx context.Context, keys []string, fn func(tx *gorm.DB) error) error {
	release, err := e.Locker.Obtain(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	return e.DB.WithContext(ctx).Transaction(fn)
}

// logRejection records why an operation failed: business rule violations as
// warnings, everything else as errors.
func (e *Engine) logRejection(funcName string, data any, err error) {
	if e.Logger == nil || err == nil {
		return
	}
	if models.IsBusinessRuleError(err) || errors.Is(err, models.ErrRecordNotFound) {
		e.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"funcName": funcName,
			"data":     data,
		}).Warn(err.Error())
		return
	}
	config.LogError(e.Logger, "workflow", funcName, "posting", data, err)
}

// ensureLocked fails when a document or the bins holding its stock changed
// between the key pre-read and the locked transaction, so that a movement
// would be posted without its lock.
func ensureLocked(locked, needed []string) error {
	set := make(map[string]struct{}, len(locked))
	for _, k := range locked {
		set[k] = struct{}{}
	}
	for _, k := range needed {
		if _, ok := set[k]; !ok {
			return models.ErrConcurrentUpdate
		}
	}
	return nil
}

func sortedUnique(keys []string) []string {
	out := utils.UniqueSlice(keys)
	sort.Strings(out)
	return out
}
