package dlq

import (
	"context"
	"sync"
	"time"

	"marketsaga/logging"
	"marketsaga/messaging"
)

// Publisher 重发出口：直接面向传输层，失败由调度器记账而非再次入队
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Scheduler 死信重试调度器
//
// 固定间隔扫描可重试条目并尝试重新发布，与请求处理线程解耦。
// 重发成功移除条目；失败则递增重试计数并按指数退避推迟下次
// 尝试。耗尽重试次数的条目保留在存储中，等待人工处理。
type Scheduler struct {
	store     IStore
	publisher Publisher
	cfg       Config
	logger    logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewScheduler 创建重试调度器
func NewScheduler(store IStore, publisher Publisher, cfg Config, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.ComponentLogger("dlq.scheduler")
	}
	return &Scheduler{
		store:     store,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	go s.loop(ctx)
	return nil
}

// Stop 停止调度循环并等待退出
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	return nil
}

// Close 实现关闭语义，便于作为资源统一管理
func (s *Scheduler) Close() error {
	return s.Stop()
}

// RedriveNow 立即执行一次扫描（测试与手工重驱用）
func (s *Scheduler) RedriveNow(ctx context.Context) error {
	return s.processOnce(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer func() { ticker.Stop(); close(s.doneCh) }()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.processOnce(ctx); err != nil {
				s.logger.Error(ctx, "dlq scan failed", logging.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processOnce(ctx context.Context) error {
	entries, err := s.store.Eligible(ctx, time.Now().UTC(), s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var firstErr error
	for _, entry := range entries {
		message, err := entry.ToMessage()
		if err != nil {
			// 无法反序列化的条目同样记账，耗尽后进入人工处理
			next := entry.NextRetryAfterFailure(s.cfg.RetryInterval)
			if markErr := s.store.MarkAsFailed(ctx, entry.EventID, err.Error(), next); markErr != nil {
				s.logger.Error(ctx, "dlq mark undecodable entry failed",
					logging.String("event_id", entry.EventID), logging.Error(markErr))
				if firstErr == nil {
					firstErr = markErr
				}
			}
			s.logger.Warn(ctx, "dlq entry deserialize failed",
				logging.String("event_id", entry.EventID), logging.Error(err))
			continue
		}

		if err := s.publisher.Publish(ctx, message); err != nil {
			next := entry.NextRetryAfterFailure(s.cfg.RetryInterval)
			if markErr := s.store.MarkAsFailed(ctx, entry.EventID, err.Error(), next); markErr != nil {
				s.logger.Error(ctx, "dlq mark retry failure failed",
					logging.String("event_id", entry.EventID), logging.Error(markErr))
				if firstErr == nil {
					firstErr = markErr
				}
			}
			s.logger.Warn(ctx, "dlq republish failed",
				logging.String("event_id", entry.EventID),
				logging.String("event_type", entry.EventType),
				logging.Int("retry_count", entry.RetryCount+1),
				logging.Error(err))
			continue
		}

		if err := s.store.Remove(ctx, entry.EventID); err != nil {
			s.logger.Error(ctx, "dlq remove after republish failed",
				logging.String("event_id", entry.EventID), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Info(ctx, "dlq entry republished",
			logging.String("event_id", entry.EventID),
			logging.String("event_type", entry.EventType),
			logging.Int("retry_count", entry.RetryCount))
	}
	return firstErr
}
