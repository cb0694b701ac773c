// Package gateway 外部ERP登记网关的HTTP实现
//
// 教学要点：防腐层的基础设施侧
// 1. 领域层只认gateway.RegistrationGateway接口,这里把HTTP、熔断、
//    超时、错误分类全部消化掉,不让一丁点协议细节泄露到用例层
// 2. 确认流程持锁期间调用这里,所以超时必须收紧、熔断必须常备:
//    ERP抖动时宁可快速失败(可重试)也不能抱着行锁干等
// 3. 错误分类是契约:网络/超时/5xx/熔断打开→可重试,
//    业务拒绝(409/422)→不可重试,调用方据此决定是否放回重试队列
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/warehouse/internal/domain/gateway"
	"github.com/xiebiao/warehouse/internal/infrastructure/config"
	"github.com/xiebiao/warehouse/pkg/circuitbreaker"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// ERPClient 外部ERP登记网关的HTTP客户端
type ERPClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// registerPayload 登记接口的请求体
type registerPayload struct {
	ReservationID uint   `json:"reservation_id"`
	LotNo         string `json:"lot_no"`
	ProductID     uint   `json:"product_id"`
	Quantity      string `json:"quantity"` // decimal字符串,避免JSON浮点精度问题
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
}

// registerResponse 登记接口的响应体
type registerResponse struct {
	DocumentNo string `json:"document_no"`
	Message    string `json:"message"`
}

// NewERPClient 创建ERP网关客户端
// 熔断参数来自配置;状态变化同步到监控指标
func NewERPClient(cfg *config.Config, logger *zap.Logger) gateway.RegistrationGateway {
	breaker := circuitbreaker.NewCircuitBreaker("erp-gateway", circuitbreaker.Config{
		MaxRequests: cfg.Gateway.BreakerMaxRequests,
		Interval:    cfg.Gateway.BreakerInterval,
		Timeout:     cfg.Gateway.BreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Gateway.BreakerConsecutiveFailures
		},
	})
	breaker.SetStateChangeCallback(func(name string, from, to circuitbreaker.State) {
		logger.Warn("熔断器状态变化",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		if metrics.CircuitBreakerState != nil {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	})

	return &ERPClient{
		baseURL: cfg.Gateway.BaseURL,
		client:  &http.Client{Timeout: cfg.Gateway.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Register 向ERP登记一笔预留
//
// 教学要点：业务拒绝不触发熔断
// 409/422是ERP的明确回答("这笔单子我不要"),下游服务是健康的,
// 所以在熔断器视角算"成功";只有网络/超时/5xx才计为失败
func (c *ERPClient) Register(ctx context.Context, req *gateway.RegisterRequest) (*gateway.RegisterResult, error) {
	payload := registerPayload{
		ReservationID: req.ReservationID,
		LotNo:         req.LotNo,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity.String(),
		SourceType:    req.SourceType,
		SourceID:      req.SourceID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, "序列化登记请求失败")
	}

	var result *gateway.RegisterResult
	var rejectErr error

	execErr := c.breaker.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/registrations", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var rr registerResponse
			if err := json.Unmarshal(respBody, &rr); err != nil {
				return fmt.Errorf("解析登记响应失败: %w", err)
			}
			if rr.DocumentNo == "" {
				return fmt.Errorf("登记响应缺少单据号")
			}
			result = &gateway.RegisterResult{DocumentNo: rr.DocumentNo}
			return nil

		case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
			// 业务拒绝:记在旁路变量里,对熔断器返回nil
			var rr registerResponse
			_ = json.Unmarshal(respBody, &rr)
			rejectErr = apperrors.ErrExternalRejected.WithCause(
				fmt.Errorf("ERP拒绝登记(status=%d): %s", resp.StatusCode, rr.Message))
			return nil

		default:
			return fmt.Errorf("ERP登记异常响应: status=%d body=%s", resp.StatusCode, respBody)
		}
	})

	if execErr != nil {
		if errors.Is(execErr, circuitbreaker.ErrOpenState) {
			c.logger.Warn("外部登记被熔断", zap.Uint("reservation_id", req.ReservationID))
			return nil, apperrors.ErrExternalRegistration.WithCause(execErr)
		}
		c.logger.Error("外部登记调用失败",
			zap.Uint("reservation_id", req.ReservationID),
			zap.Error(execErr))
		return nil, apperrors.ErrExternalRegistration.WithCause(execErr)
	}
	if rejectErr != nil {
		c.logger.Warn("外部登记被业务拒绝",
			zap.Uint("reservation_id", req.ReservationID),
			zap.Error(rejectErr))
		return nil, rejectErr
	}

	return result, nil
}

// CancelRegistration 撤销一笔已登记单据
// 404视为成功:单据已经不存在,重复撤销是幂等的
func (c *ERPClient) CancelRegistration(ctx context.Context, documentNo string) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
			c.baseURL+"/api/v1/registrations/"+documentNo, nil)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if (resp.StatusCode >= 200 && resp.StatusCode < 300) ||
			resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("ERP撤销登记异常响应: status=%d body=%s", resp.StatusCode, respBody)
	})

	c.logger.Debug("撤销外部登记",
		zap.String("document_no", documentNo),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))

	if err != nil {
		return apperrors.ErrExternalRegistration.WithCause(err)
	}
	return nil
}
