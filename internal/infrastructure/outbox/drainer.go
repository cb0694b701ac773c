// Package outbox 实现发件箱搬运器(Transactional Outbox的异步半边)
//
// 业务事务只负责把事件落到outbox_events表,这里负责把表里的事件
// 搬到RabbitMQ。搬运是至少一次(at-least-once):发布成功但标记失败时,
// 下一轮会重发同一事件,消费方必须按event_id去重。
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/infrastructure/config"
	"github.com/xiebiao/warehouse/pkg/metrics"
	"github.com/xiebiao/warehouse/pkg/mq"
)

// Drainer 发件箱搬运器
type Drainer struct {
	repo      outbox.Repository
	publisher *mq.Publisher
	logger    *zap.Logger
	interval  time.Duration
	batch     int
}

// NewDrainer 创建搬运器
func NewDrainer(repo outbox.Repository, publisher *mq.Publisher,
	logger *zap.Logger, cfg *config.Config) *Drainer {
	interval := cfg.Outbox.DrainInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := cfg.Outbox.DrainBatch
	if batch <= 0 {
		batch = 200
	}
	return &Drainer{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batch:     batch,
	}
}

// Run 启动搬运循环(阻塞,应在独立goroutine运行)
func (d *Drainer) Run(ctx context.Context) {
	d.logger.Info("发件箱搬运器启动",
		zap.Duration("interval", d.interval),
		zap.Int("batch", d.batch))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("发件箱搬运器停止")
			return
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				d.logger.Error("发件箱搬运失败", zap.Error(err))
			}
			d.reportBacklog(ctx)
		}
	}
}

// DrainOnce 搬运一轮:查询未投递事件,逐条发布,成功的批量标记
func (d *Drainer) DrainOnce(ctx context.Context) error {
	events, err := d.repo.ListUnpublished(ctx, d.batch)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]uint, 0, len(events))
	for _, ev := range events {
		// routing key直接用事件类型(reservation.confirmed等),
		// 下游按通配符订阅(reservation.*)
		if err := d.publisher.PublishRaw(ev.EventType, ev.Payload); err != nil {
			// 发布失败就停在这条:保持事件的创建顺序,下一轮从头重试
			d.logger.Warn("事件发布失败,本轮终止",
				zap.String("event_id", ev.EventID),
				zap.String("event_type", ev.EventType),
				zap.Error(err))
			break
		}
		published = append(published, ev.ID)
	}

	if len(published) == 0 {
		return nil
	}
	if err := d.repo.MarkPublished(ctx, published); err != nil {
		// 标记失败:事件会被重发,靠消费方按event_id去重兜底
		return err
	}

	d.logger.Debug("发件箱搬运完成", zap.Int("published", len(published)))
	return nil
}

// reportBacklog 上报积压事件数
func (d *Drainer) reportBacklog(ctx context.Context) {
	n, err := d.repo.CountUnpublished(ctx)
	if err != nil {
		return
	}
	if metrics.OutboxPendingEvents != nil {
		metrics.OutboxPendingEvents.Set(float64(n))
	}
}
