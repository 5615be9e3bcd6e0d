package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const advisoryLockTimeout = 30 // seconds

// AcquireLeadLock serializes writers of one lead using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that will do the mutation.
func AcquireLeadLock(tx *gorm.DB, businessId string, leadId int) error {
	lockName := fmt.Sprintf("lead:%s:%d", businessId, leadId)
	return acquireAdvisoryLock(tx, lockName)
}

func ReleaseLeadLock(tx *gorm.DB, businessId string, leadId int) {
	lockName := fmt.Sprintf("lead:%s:%d", businessId, leadId)
	releaseAdvisoryLock(tx, lockName)
}

// AcquireFunnelLock serializes structural edits of one funnel.
func AcquireFunnelLock(tx *gorm.DB, businessId string, funnelId int) error {
	lockName := fmt.Sprintf("funnel:%s:%d", businessId, funnelId)
	return acquireAdvisoryLock(tx, lockName)
}

func ReleaseFunnelLock(tx *gorm.DB, businessId string, funnelId int) {
	lockName := fmt.Sprintf("funnel:%s:%d", businessId, funnelId)
	releaseAdvisoryLock(tx, lockName)
}

func acquireAdvisoryLock(tx *gorm.DB, lockName string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, ?)", lockName, advisoryLockTimeout).Scan(&ok).Error; err != nil {
		return utils.NewStorageError(err)
	}
	if ok != 1 {
		return utils.NewConflictError("could not acquire lock " + lockName + "; retry the operation")
	}
	return nil
}

func releaseAdvisoryLock(tx *gorm.DB, lockName string) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// obtainRedisLock is the best-effort cross-instance fence in front of the
// advisory lock. If redis is unavailable or contended the caller proceeds
// anyway; GET_LOCK still serializes safely.
func obtainRedisLock(ctx context.Context, key string) *redislock.Lock {
	logger := config.GetLogger()
	redisLock := config.GetRedisLock()
	if redisLock == nil {
		logger.WithFields(logrus.Fields{
			"field": "obtainRedisLock",
			"key":   key,
		}).Warn("redis lock not ready; proceeding without redis lock")
		return nil
	}

	lock, err := redisLock.Obtain(ctx, key, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		logger.WithFields(logrus.Fields{
			"field": "obtainRedisLock",
			"key":   key,
		}).Warn("could not obtain redis lock; proceeding without redis lock")
		return nil
	} else if err != nil {
		logger.WithFields(logrus.Fields{
			"field": "obtainRedisLock",
			"key":   key,
		}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return nil
	}
	return lock
}

func releaseRedisLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field": "releaseRedisLock",
		}).Warn("failed to release redis lock: " + err.Error())
	}
}

func obtainLeadRedisLock(ctx context.Context, businessId string, leadId int) *redislock.Lock {
	return obtainRedisLock(ctx, fmt.Sprintf("lead:%s:%d", businessId, leadId))
}

func obtainFunnelRedisLock(ctx context.Context, businessId string, funnelId int) *redislock.Lock {
	return obtainRedisLock(ctx, fmt.Sprintf("funnel:%s:%d", businessId, funnelId))
}
