package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/application/allocation"
)

// AvailabilityCache 批次可用量缓存(Cache-Aside)
//
// 教学要点：
// 1. 缓存的是派生值(received - locked - 硬占用),不是事实
//    事实永远在MySQL里,缓存丢了、过期了都不影响正确性
// 2. 一致性策略:写路径删缓存(Invalidate),不更新缓存
//    更新缓存在并发下会把旧值写回去,删除简单可靠
// 3. 数值用decimal字符串存储,绝不走float64
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAvailabilityCache 创建可用量缓存
func NewAvailabilityCache(client *redis.Client, ttl time.Duration) allocation.AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

// Get 读取批次可用量缓存,未命中返回(zero, false, nil)
func (c *AvailabilityCache) Get(ctx context.Context, lotID uint) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.key(lotID)).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("获取可用量缓存失败: %w", err)
	}

	qty, err := decimal.NewFromString(val)
	if err != nil {
		// 缓存内容损坏:当作未命中,让调用方回源重建
		return decimal.Zero, false, nil
	}
	return qty, true, nil
}

// Set 写入批次可用量缓存
func (c *AvailabilityCache) Set(ctx context.Context, lotID uint, qty decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key(lotID), qty.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("设置可用量缓存失败: %w", err)
	}
	return nil
}

// Invalidate 删除批次可用量缓存(预留/确认/释放后调用)
func (c *AvailabilityCache) Invalidate(ctx context.Context, lotID uint) error {
	if err := c.client.Del(ctx, c.key(lotID)).Err(); err != nil {
		return fmt.Errorf("删除可用量缓存失败: %w", err)
	}
	return nil
}

// key 生成缓存key
// 格式：warehouse:lot:avail:{lot_id}
func (c *AvailabilityCache) key(lotID uint) string {
	return fmt.Sprintf("warehouse:lot:avail:%d", lotID)
}
