package lot

import (
	"fmt"
	"math/rand"
	"time"
)

// GenerateLotNo 生成批次号
// 教学要点:业务单号设计原则
// 1. 全局唯一(避免冲突)
// 2. 时间有序(便于分库分表和对账)
// 3. 不可预测(防止恶意遍历)
//
// 格式:LOT + YYYYMMDDHHMMSS + 6位随机数
// 示例:LOT20260901120000834251
func GenerateLotNo() string {
	now := time.Now()
	timePart := now.Format("20060102150405")
	randomPart := rand.Intn(900000) + 100000
	return fmt.Sprintf("LOT%s%d", timePart, randomPart)
}
