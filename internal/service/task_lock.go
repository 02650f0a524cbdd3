package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "tfs-insight/backend/pkg/errors"
	"tfs-insight/backend/pkg/metrics"
)

// TaskLocker 按 tfs_id 串行化任务写入（导入 upsert、引擎回写、手工编辑）
type TaskLocker interface {
	Lock(ctx context.Context, tfsID int64) (unlock func(), err error)
}

// lockClient pkg/redis.Client 的锁子集
type lockClient interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

const (
	taskLockTTL      = 30 * time.Second
	taskLockAttempts = 20
	taskLockBackoff  = 50 * time.Millisecond
)

// ── Redis 实现（多实例部署） ──

type redisTaskLocker struct {
	client lockClient
	logger *zap.Logger
}

// NewRedisTaskLocker 基于 Redis SET NX PX 的分布式任务锁
func NewRedisTaskLocker(client lockClient, logger *zap.Logger) TaskLocker {
	return &redisTaskLocker{client: client, logger: logger}
}

func (l *redisTaskLocker) Lock(ctx context.Context, tfsID int64) (func(), error) {
	name := "task:" + strconv.FormatInt(tfsID, 10)
	for attempt := 0; attempt < taskLockAttempts; attempt++ {
		token, ok, err := l.client.AcquireLock(ctx, name, taskLockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// 调用方的 ctx 可能已取消，释放时使用独立超时
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.client.ReleaseLock(rctx, name, token); err != nil {
					l.logger.Warn("释放任务锁失败", zap.Int64("tfs_id", tfsID), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(taskLockBackoff):
		}
	}
	metrics.IncLockBusy()
	return nil, pkgerrors.ErrLockBusy
}

// ── 进程内实现（Redis 不可用时降级） ──

type keyLock struct {
	ch   chan struct{}
	refs int
}

type localTaskLocker struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

// NewLocalTaskLocker 进程内按 key 的互斥锁，空闲 key 自动回收
func NewLocalTaskLocker() TaskLocker {
	return &localTaskLocker{locks: make(map[int64]*keyLock)}
}

func (l *localTaskLocker) Lock(ctx context.Context, tfsID int64) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[tfsID]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[tfsID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				l.release(tfsID, kl)
			})
		}, nil
	case <-ctx.Done():
		l.release(tfsID, kl)
		return nil, ctx.Err()
	}
}

func (l *localTaskLocker) release(tfsID int64, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, tfsID)
	}
}

// lockPair 按 ID 升序获取两把锁，避免交叉等待
func lockPair(ctx context.Context, locker TaskLocker, a, b int64) (func(), error) {
	if a == b {
		return locker.Lock(ctx, a)
	}
	first, second := a, b
	if first > second {
		first, second = second, first
	}
	u1, err := locker.Lock(ctx, first)
	if err != nil {
		return nil, err
	}
	u2, err := locker.Lock(ctx, second)
	if err != nil {
		u1()
		return nil, err
	}
	return func() {
		u2()
		u1()
	}, nil
}
