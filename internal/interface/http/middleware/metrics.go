package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/warehouse/pkg/metrics"
)

// Metrics HTTP指标采集中间件
// 教学要点：path标签用路由模板(c.FullPath())而不是真实URL,
// 否则/api/v1/reservations/123、/124…会把指标基数打爆
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched" // 404等未匹配路由归到一个桶里
		}

		if metrics.HTTPRequestsTotal != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(
				c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		}
		if metrics.HTTPRequestDuration != nil {
			metrics.HTTPRequestDuration.WithLabelValues(
				c.Request.Method, path).Observe(time.Since(start).Seconds())
		}
	}
}
