// Package testutil 提供应用层用例测试用的内存版仓储与依赖替身
//
// 教学要点:用例测试不连真实MySQL/Redis/ERP
// 1. 仓储接口定义在domain层,内存实现一样满足契约
// 2. FakeTxManager用全局互斥锁串行化"事务",并发测试结果确定可复现
// 3. FakeGateway精确记录每一次外部调用,幂等性断言全靠它
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/domain/gateway"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
)

// =========================================
// FakeTxManager
// =========================================

// FakeTxManager 内存事务管理器
// 真实实现靠数据库行锁串行化同一批次上的写,
// 这里用一把全局互斥锁达到同样的串行效果(粒度更粗但语义不弱)
// 注意:没有回滚能力,fn中途失败时已写入的数据会残留,
// 需要回滚语义的场景用各Fake仓储的故障注入开关模拟
type FakeTxManager struct {
	mu sync.Mutex
}

// NewFakeTxManager 创建内存事务管理器
func NewFakeTxManager() *FakeTxManager {
	return &FakeTxManager{}
}

// WithTransaction 串行执行fn
func (m *FakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

// =========================================
// FakeLotRepo
// =========================================

// FakeLotRepo 内存批次仓储
type FakeLotRepo struct {
	mu     sync.Mutex
	lots   map[uint]*lot.Lot
	nextID uint
}

// NewFakeLotRepo 创建内存批次仓储
func NewFakeLotRepo() *FakeLotRepo {
	return &FakeLotRepo{lots: make(map[uint]*lot.Lot), nextID: 1}
}

func (f *FakeLotRepo) Create(_ context.Context, l *lot.Lot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = f.nextID
	f.nextID++
	cp := *l
	f.lots[l.ID] = &cp
	return nil
}

func (f *FakeLotRepo) FindByID(_ context.Context, id uint) (*lot.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lots[id]
	if !ok {
		return nil, lot.ErrLotNotFound
	}
	cp := *l
	return &cp, nil
}

// LockByID 行锁语义由FakeTxManager的全局互斥锁承担
func (f *FakeLotRepo) LockByID(ctx context.Context, id uint) (*lot.Lot, error) {
	return f.FindByID(ctx, id)
}

func (f *FakeLotRepo) ListAllocatable(_ context.Context, productID, warehouseID uint) ([]*lot.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*lot.Lot
	for _, l := range f.lots {
		if l.Status != lot.LotStatusActive || l.ProductID != productID {
			continue
		}
		if warehouseID != 0 && l.WarehouseID != warehouseID {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	return result, nil
}

func (f *FakeLotRepo) Update(_ context.Context, l *lot.Lot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.lots[l.ID]
	if !ok {
		return lot.ErrLotNotFound
	}
	if stored.Version != l.Version {
		return lot.ErrVersionConflict
	}
	l.Version++
	cp := *l
	f.lots[l.ID] = &cp
	return nil
}

func (f *FakeLotRepo) List(_ context.Context, productID uint, page, pageSize int) ([]*lot.Lot, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*lot.Lot
	for _, l := range f.lots {
		if productID != 0 && l.ProductID != productID {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// =========================================
// FakeReservationRepo
// =========================================

// FakeReservationRepo 内存预留仓储
// FailUpdateOnce为真时,下一次Update返回错误并复位
// (模拟"外部登记成功但本地落库失败"的断电点)
type FakeReservationRepo struct {
	mu             sync.Mutex
	reservations   map[uint]*reservation.Reservation
	nextID         uint
	FailUpdateOnce bool
}

// NewFakeReservationRepo 创建内存预留仓储
func NewFakeReservationRepo() *FakeReservationRepo {
	return &FakeReservationRepo{
		reservations: make(map[uint]*reservation.Reservation),
		nextID:       1,
	}
}

func (f *FakeReservationRepo) Create(_ context.Context, r *reservation.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextID
	f.nextID++
	cp := *r
	f.reservations[r.ID] = &cp
	return nil
}

func (f *FakeReservationRepo) FindByID(_ context.Context, id uint) (*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *FakeReservationRepo) Update(_ context.Context, r *reservation.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUpdateOnce {
		f.FailUpdateOnce = false
		return fmt.Errorf("模拟落库失败")
	}
	stored, ok := f.reservations[r.ID]
	if !ok {
		return reservation.ErrReservationNotFound
	}
	if stored.Version != r.Version {
		return reservation.ErrVersionConflict
	}
	r.Version++
	cp := *r
	f.reservations[r.ID] = &cp
	return nil
}

func (f *FakeReservationRepo) SumByLotIDs(_ context.Context, lotIDs []uint,
	statuses []reservation.Status) (map[uint]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uint]struct{}, len(lotIDs))
	for _, id := range lotIDs {
		want[id] = struct{}{}
	}
	statusSet := make(map[reservation.Status]struct{}, len(statuses))
	for _, s := range statuses {
		statusSet[s] = struct{}{}
	}
	result := make(map[uint]decimal.Decimal, len(lotIDs))
	for _, r := range f.reservations {
		if _, ok := want[r.LotID]; !ok {
			continue
		}
		if _, ok := statusSet[r.Status]; !ok {
			continue
		}
		result[r.LotID] = result[r.LotID].Add(r.ReservedQty)
	}
	return result, nil
}

func (f *FakeReservationRepo) ListBySource(_ context.Context,
	sourceType reservation.SourceType, sourceID string) ([]*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*reservation.Reservation
	for _, r := range f.reservations {
		if r.SourceType == sourceType && r.SourceID == sourceID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (f *FakeReservationRepo) ListExpiredTemporary(_ context.Context,
	before time.Time, limit int) ([]*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*reservation.Reservation
	for _, r := range f.reservations {
		if len(result) >= limit {
			break
		}
		if r.Status == reservation.StatusTemporary &&
			r.ExpiresAt != nil && r.ExpiresAt.Before(before) {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

// =========================================
// FakeSummaryRepo
// =========================================

// FakeSummaryRepo 内存批次族汇总仓储
// Recompute直接扫FakeLotRepo的存量批次行,与真实实现一样是纯函数重算
type FakeSummaryRepo struct {
	mu        sync.Mutex
	lotRepo   *FakeLotRepo
	summaries map[string]*lot.FamilySummary
}

// NewFakeSummaryRepo 创建内存汇总仓储
func NewFakeSummaryRepo(lotRepo *FakeLotRepo) *FakeSummaryRepo {
	return &FakeSummaryRepo{
		lotRepo:   lotRepo,
		summaries: make(map[string]*lot.FamilySummary),
	}
}

func summaryKey(productID, warehouseID uint) string {
	return fmt.Sprintf("%d-%d", productID, warehouseID)
}

func (f *FakeSummaryRepo) Recompute(_ context.Context, productID, warehouseID uint) error {
	f.lotRepo.mu.Lock()
	summary := &lot.FamilySummary{ProductID: productID, WarehouseID: warehouseID}
	for _, l := range f.lotRepo.lots {
		if l.ProductID != productID || l.WarehouseID != warehouseID {
			continue
		}
		summary.TotalReceivedQty = summary.TotalReceivedQty.Add(l.ReceivedQty)
		summary.TotalLockedQty = summary.TotalLockedQty.Add(l.LockedQty)
		summary.LotCount++
	}
	f.lotRepo.mu.Unlock()

	f.mu.Lock()
	f.summaries[summaryKey(productID, warehouseID)] = summary
	f.mu.Unlock()
	return nil
}

func (f *FakeSummaryRepo) Find(_ context.Context, productID, warehouseID uint) (*lot.FamilySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[summaryKey(productID, warehouseID)]
	if !ok {
		return nil, lot.ErrLotNotFound
	}
	cp := *s
	return &cp, nil
}

// =========================================
// FakeMarkerRepo
// =========================================

// FakeMarkerRepo 内存登记标记仓储
// 契约要求Record是独立短事务且幂等,这里天然满足:
// 直接写map,不掺和FakeTxManager的"事务"
type FakeMarkerRepo struct {
	mu      sync.Mutex
	markers map[uint]*reservation.RegistrationMarker
	nextID  uint
}

// NewFakeMarkerRepo 创建内存标记仓储
func NewFakeMarkerRepo() *FakeMarkerRepo {
	return &FakeMarkerRepo{
		markers: make(map[uint]*reservation.RegistrationMarker),
		nextID:  1,
	}
}

func (f *FakeMarkerRepo) Record(_ context.Context, reservationID uint, documentNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markers[reservationID]; ok {
		// 唯一索引冲突视为成功
		return nil
	}
	f.markers[reservationID] = &reservation.RegistrationMarker{
		ID:            f.nextID,
		ReservationID: reservationID,
		DocumentNo:    documentNo,
		CreatedAt:     time.Now(),
	}
	f.nextID++
	return nil
}

func (f *FakeMarkerRepo) FindByReservationID(_ context.Context,
	reservationID uint) (*reservation.RegistrationMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markers[reservationID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// =========================================
// FakeAuditRepo
// =========================================

// FakeAuditRepo 内存审计仓储
type FakeAuditRepo struct {
	mu      sync.Mutex
	entries []*reservation.AuditEntry
}

// NewFakeAuditRepo 创建内存审计仓储
func NewFakeAuditRepo() *FakeAuditRepo {
	return &FakeAuditRepo{}
}

func (f *FakeAuditRepo) Append(_ context.Context, entry *reservation.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	cp.ID = uint(len(f.entries) + 1)
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *FakeAuditRepo) ListByReservationID(_ context.Context,
	reservationID uint) ([]*reservation.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*reservation.AuditEntry
	for _, e := range f.entries {
		if e.ReservationID == reservationID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// =========================================
// FakeOutboxRepo
// =========================================

// FakeOutboxRepo 内存发件箱仓储
type FakeOutboxRepo struct {
	mu     sync.Mutex
	events []*outbox.Event
}

// NewFakeOutboxRepo 创建内存发件箱仓储
func NewFakeOutboxRepo() *FakeOutboxRepo {
	return &FakeOutboxRepo{}
}

func (f *FakeOutboxRepo) Append(_ context.Context, event *outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *event
	cp.ID = uint(len(f.events) + 1)
	f.events = append(f.events, &cp)
	return nil
}

func (f *FakeOutboxRepo) ListUnpublished(_ context.Context, limit int) ([]*outbox.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*outbox.Event
	for _, e := range f.events {
		if len(result) >= limit {
			break
		}
		if !e.Published {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (f *FakeOutboxRepo) MarkPublished(_ context.Context, ids []uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idSet := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	now := time.Now()
	for _, e := range f.events {
		if _, ok := idSet[e.ID]; ok {
			e.Published = true
			e.PublishedAt = &now
		}
	}
	return nil
}

func (f *FakeOutboxRepo) CountUnpublished(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.events {
		if !e.Published {
			n++
		}
	}
	return n, nil
}

// EventTypes 按写入顺序返回全部事件类型(测试断言用)
func (f *FakeOutboxRepo) EventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

// =========================================
// FakeGateway
// =========================================

// FakeGateway 内存外部登记网关
// RegisterCalls精确记录每次正向调用,幂等性测试的核心断言对象
type FakeGateway struct {
	mu            sync.Mutex
	nextDoc       int
	RegisterCalls map[uint]int      // 预留ID → Register调用次数
	CancelCalls   map[string]int    // 单据号 → Cancel调用次数
	FailWith      map[uint]error    // 指定预留的Register强制失败
	CancelFail    map[string]error  // 指定单据的Cancel强制失败
	IssuedDocs    map[uint]string   // 预留ID → 已签发单据号
}

// NewFakeGateway 创建内存网关
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		RegisterCalls: make(map[uint]int),
		CancelCalls:   make(map[string]int),
		FailWith:      make(map[uint]error),
		CancelFail:    make(map[string]error),
		IssuedDocs:    make(map[uint]string),
	}
}

func (f *FakeGateway) Register(_ context.Context,
	req *gateway.RegisterRequest) (*gateway.RegisterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RegisterCalls[req.ReservationID]++
	if err, ok := f.FailWith[req.ReservationID]; ok {
		return nil, err
	}
	// 幂等键重放:同一预留重复登记返回原单据号
	if doc, ok := f.IssuedDocs[req.ReservationID]; ok {
		return &gateway.RegisterResult{DocumentNo: doc}, nil
	}
	f.nextDoc++
	doc := fmt.Sprintf("DOC-%06d", f.nextDoc)
	f.IssuedDocs[req.ReservationID] = doc
	return &gateway.RegisterResult{DocumentNo: doc}, nil
}

func (f *FakeGateway) CancelRegistration(_ context.Context, documentNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls[documentNo]++
	if err, ok := f.CancelFail[documentNo]; ok {
		return err
	}
	return nil
}

// TotalRegisterCalls 全部Register调用次数之和
func (f *FakeGateway) TotalRegisterCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.RegisterCalls {
		total += n
	}
	return total
}

// =========================================
// FakeAvailabilityCache
// =========================================

// FakeAvailabilityCache 内存可用量缓存
type FakeAvailabilityCache struct {
	mu          sync.Mutex
	values      map[uint]decimal.Decimal
	Invalidated map[uint]int // 批次ID → 失效次数(测试断言用)
}

// NewFakeAvailabilityCache 创建内存缓存
func NewFakeAvailabilityCache() *FakeAvailabilityCache {
	return &FakeAvailabilityCache{
		values:      make(map[uint]decimal.Decimal),
		Invalidated: make(map[uint]int),
	}
}

func (f *FakeAvailabilityCache) Get(_ context.Context, lotID uint) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[lotID]
	return v, ok, nil
}

func (f *FakeAvailabilityCache) Set(_ context.Context, lotID uint, qty decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[lotID] = qty
	return nil
}

func (f *FakeAvailabilityCache) Invalidate(_ context.Context, lotID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, lotID)
	f.Invalidated[lotID]++
	return nil
}
