package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/warehouse/pkg/jwt"
)

// 教学说明：集成测试辅助工具
// 前置条件：服务与依赖(MySQL/Redis/RabbitMQ/模拟ERP)已通过docker-compose启动
// 将重复的代码（HTTP请求、JSON解析、造数）封装成可复用的函数

const (
	// BaseURL API基础URL
	BaseURL = "http://localhost:8080/api/v1"
	// Timeout HTTP请求超时时间
	Timeout = 10 * time.Second
	// DevSecret 开发环境JWT密钥(与config/config.yaml保持一致)
	DevSecret = "your-secret-key-change-in-production"
)

// productSeq 产品ID序列,保证每个测试用例拿到独立的批次族
var productSeq uint64

// Response 统一响应结构
type Response struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

// ReceiveLotData 收货响应数据
type ReceiveLotData struct {
	LotID       uint   `json:"lot_id"`
	LotNo       string `json:"lot_no"`
	ReceivedQty string `json:"received_qty"`
}

// ReserveData 预留响应数据
type ReserveData struct {
	Items []struct {
		ReservationID uint   `json:"reservation_id"`
		LotID         uint   `json:"lot_id"`
		LotNo         string `json:"lot_no"`
		Qty           string `json:"qty"`
		Status        string `json:"status"`
	} `json:"items"`
	Shortage string `json:"shortage"`
}

// ConfirmData 确认响应数据
type ConfirmData struct {
	ReservationID uint   `json:"reservation_id"`
	DocumentNo    string `json:"document_no"`
	Status        string `json:"status"`
}

// AvailabilityData 可用量响应数据
type AvailabilityData struct {
	LotID        uint   `json:"lot_id"`
	AvailableQty string `json:"available_qty"`
}

// ReleasedData 释放响应数据
type ReleasedData struct {
	ReleasedIDs []uint `json:"released_ids"`
	Count       int    `json:"count"`
}

// SummaryData 批次族汇总响应数据
type SummaryData struct {
	ProductID        uint   `json:"product_id"`
	WarehouseID      uint   `json:"warehouse_id"`
	TotalReceivedQty string `json:"total_received_qty"`
	TotalLockedQty   string `json:"total_locked_qty"`
	LotCount         int    `json:"lot_count"`
}

// TryDoJSON 发送HTTP请求并解析统一响应,失败以error返回
//
// 教学说明:require.FailNow只允许在测试主goroutine调用,
// 并发用例里用本函数先收集结果,回到主goroutine再统一断言
func TryDoJSON(method, url string, data interface{}, token string) (*Response, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("JSON序列化失败: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var result Response
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析JSON响应失败: %s: %w", string(raw), err)
	}

	return &result, nil
}

// doJSON 发送HTTP请求并解析统一响应
func doJSON(t *testing.T, method, url string, data interface{}, token string) *Response {
	result, err := TryDoJSON(method, url, data, token)
	require.NoError(t, err)
	return result
}

// PostJSON 发送POST请求
func PostJSON(t *testing.T, url string, data interface{}, token string) *Response {
	return doJSON(t, http.MethodPost, url, data, token)
}

// GetJSON 发送GET请求
func GetJSON(t *testing.T, url string, token string) *Response {
	return doJSON(t, http.MethodGet, url, nil, token)
}

// DeleteJSON 发送DELETE请求
func DeleteJSON(t *testing.T, url string, token string) *Response {
	return doJSON(t, http.MethodDelete, url, nil, token)
}

// OperatorToken 生成操作员Token
//
// 教学说明：
// 本服务没有登录接口(操作员由上游身份系统管理),
// 集成测试直接用开发密钥自签Token,与服务端验签逻辑共用pkg/jwt
func OperatorToken(t *testing.T, role string) string {
	manager := jwt.NewManager(DevSecret, 2*time.Hour, 168*time.Hour)
	pair, err := manager.GenerateToken(1, "it-operator", role)
	require.NoError(t, err, "生成测试Token失败")
	return pair.AccessToken
}

// NextProductID 生成独立的测试产品ID
// 时间戳+进程内序列,避免测试间共享批次族互相干扰
func NextProductID() uint {
	seq := atomic.AddUint64(&productSeq, 1)
	return uint(time.Now().Unix()%1000000)*1000 + uint(seq%1000)
}

// ReceiveTestLot 收货一个测试批次并返回批次ID
func ReceiveTestLot(t *testing.T, token string, productID uint, qty string, expiryDate string) uint {
	req := map[string]interface{}{
		"product_id":   productID,
		"warehouse_id": 1,
		"supplier_id":  1,
		"received_qty": qty,
	}
	if expiryDate != "" {
		req["expiry_date"] = expiryDate
	}

	resp := PostJSON(t, BaseURL+"/lots", req, token)
	require.Equal(t, 0, resp.Code, "收货失败: %s", resp.Message)

	var data ReceiveLotData
	err := json.Unmarshal(resp.Data, &data)
	require.NoError(t, err, "解析收货响应失败")
	require.NotZero(t, data.LotID, "批次ID应该大于0")

	return data.LotID
}

// ReserveQty 创建预留并返回响应数据
func ReserveQty(t *testing.T, token string, productID uint, qty, sourceID string,
	temporary bool) *ReserveData {
	req := map[string]interface{}{
		"product_id":   productID,
		"warehouse_id": 1,
		"required_qty": qty,
		"source_type":  "order",
		"source_id":    sourceID,
		"temporary":    temporary,
	}

	resp := PostJSON(t, BaseURL+"/reservations", req, token)
	require.Equal(t, 0, resp.Code, "预留失败: %s", resp.Message)

	var data ReserveData
	err := json.Unmarshal(resp.Data, &data)
	require.NoError(t, err, "解析预留响应失败")
	return &data
}

// RequireQtyEqual 数值比较decimal字符串
// 注意:decimal的String()保留小数位("380.000"),不能直接比字符串
func RequireQtyEqual(t *testing.T, expected, actual string, msgAndArgs ...interface{}) {
	e := decimal.RequireFromString(expected)
	a := decimal.RequireFromString(actual)
	require.True(t, e.Equal(a), "数量不相等: 期望%s 实际%s %v", expected, actual, msgAndArgs)
}

// LotAvailability 查询批次可用量
func LotAvailability(t *testing.T, lotID uint) string {
	resp := GetJSON(t, fmt.Sprintf("%s/lots/%d/availability", BaseURL, lotID), "")
	require.Equal(t, 0, resp.Code, "查询可用量失败: %s", resp.Message)

	var data AvailabilityData
	err := json.Unmarshal(resp.Data, &data)
	require.NoError(t, err, "解析可用量响应失败")
	return data.AvailableQty
}
