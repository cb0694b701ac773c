package mysql

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/warehouse/internal/infrastructure/config"
)

// NewDB 创建数据库连接
// 设计说明：
// 1. 使用GORM v2作为ORM框架
// 2. 配置连接池参数（MaxOpenConns、MaxIdleConns、ConnMaxLifetime）
// 3. 开发环境开启SQL日志，生产环境关闭
// 4. 自动迁移表结构（AutoMigrate）
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.Database.DSN()

	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info // 开发环境打印SQL
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	log.Println("✓ 数据库连接成功")

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return db, nil
}

// autoMigrate 自动迁移表结构
// 学习要点:
// 1. AutoMigrate只会创建表、添加字段,不会删除或修改现有字段
// 2. 生产环境应使用版本化的迁移脚本,不要依赖AutoMigrate
func autoMigrate(db *gorm.DB) error {
	// 注意:这里是GORM的模型定义(带tag),不是domain层的实体
	return db.AutoMigrate(
		&LotModel{},
		&ReservationModel{},
		&RegistrationMarkerModel{},
		&ReservationAuditModel{},
		&OutboxEventModel{},
		&LotFamilySummaryModel{},
	)
}

// LotModel GORM批次模型
// 设计说明:
// 1. 数量字段使用DECIMAL(18,3),浮点数在库存领域是事故源头
// 2. LotNo有唯一索引(业务主键)
// 3. (product_id, warehouse_id, status)复合索引服务候选筛选查询
// 4. 批次永不物理删除,不挂gorm的软删除,生命周期走status
type LotModel struct {
	ID           uint            `gorm:"primaryKey"`
	LotNo        string          `gorm:"uniqueIndex;size:32;not null;comment:批次号"`
	ProductID    uint            `gorm:"index:idx_family;not null;comment:产品ID"`
	WarehouseID  uint            `gorm:"index:idx_family;not null;comment:仓库ID"`
	SupplierID   uint            `gorm:"index;comment:供应商ID"`
	ReceivedQty  decimal.Decimal `gorm:"type:decimal(18,3);not null;comment:收货数量"`
	LockedQty    decimal.Decimal `gorm:"type:decimal(18,3);not null;default:0;comment:冻结数量"`
	Status       int             `gorm:"index:idx_family;type:tinyint;default:1;comment:批次状态(1在库2耗尽3过期4隔离5锁定6归档)"`
	ExpiryDate   *time.Time      `gorm:"index;comment:到期日"`
	ReceivedDate time.Time       `gorm:"index;not null;comment:收货日期"`
	Version      int             `gorm:"not null;default:1;comment:乐观锁版本号"`
	CreatedAt    time.Time       `gorm:"comment:创建时间"`
	UpdatedAt    time.Time       `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (LotModel) TableName() string {
	return "lots"
}

// ReservationModel GORM预留模型
// 教学要点:
// 1. (source_type, source_id)复合索引服务按来源释放
// 2. (lot_id, status)复合索引服务占用量汇总
// 3. (status, expires_at)复合索引服务过期扫描
// 4. DocumentNo可空:只有确认协调器会写入
type ReservationModel struct {
	ID          uint            `gorm:"primaryKey"`
	LotID       uint            `gorm:"index:idx_lot_status;not null;comment:批次ID"`
	SourceType  string          `gorm:"index:idx_source;size:16;not null;comment:需求来源类型"`
	SourceID    string          `gorm:"index:idx_source;size:64;not null;comment:需求来源单据ID"`
	ReservedQty decimal.Decimal `gorm:"type:decimal(18,3);not null;comment:预留数量"`
	Status      int             `gorm:"index:idx_lot_status;index:idx_expiry;type:tinyint;not null;comment:预留状态(1临时2生效3已确认4已释放)"`
	DocumentNo  *string         `gorm:"size:64;comment:外部登记单据号"`
	ExpiresAt   *time.Time      `gorm:"index:idx_expiry;comment:临时预留过期时间"`
	ConfirmedAt *time.Time      `gorm:"comment:确认时间"`
	ReleasedAt  *time.Time      `gorm:"comment:释放时间"`
	Version     int             `gorm:"not null;default:1;comment:乐观锁版本号"`
	CreatedAt   time.Time       `gorm:"index;comment:创建时间"`
	UpdatedAt   time.Time       `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (ReservationModel) TableName() string {
	return "reservations"
}

// RegistrationMarkerModel GORM外部登记标记模型
// 教学要点:ReservationID上的唯一索引就是幂等的全部物理基础
// 两个并发确认同时想插入同一预留的标记时,数据库保证只有一个成功
type RegistrationMarkerModel struct {
	ID            uint      `gorm:"primaryKey"`
	ReservationID uint      `gorm:"uniqueIndex;not null;comment:预留ID"`
	DocumentNo    string    `gorm:"size:64;not null;comment:外部登记单据号"`
	CreatedAt     time.Time `gorm:"comment:创建时间"`
}

// TableName 指定表名
func (RegistrationMarkerModel) TableName() string {
	return "registration_markers"
}

// ReservationAuditModel GORM预留审计模型(只追加)
type ReservationAuditModel struct {
	ID            uint            `gorm:"primaryKey"`
	ReservationID uint            `gorm:"index;not null;comment:预留ID"`
	LotID         uint            `gorm:"index;not null;comment:批次ID"`
	Action        string          `gorm:"size:16;not null;comment:动作"`
	Quantity      decimal.Decimal `gorm:"type:decimal(18,3);not null;comment:涉及数量"`
	FromStatus    int             `gorm:"type:tinyint;comment:变化前状态"`
	ToStatus      int             `gorm:"type:tinyint;comment:变化后状态"`
	DocumentNo    string          `gorm:"size:64;comment:外部单据号"`
	Remark        string          `gorm:"size:255;comment:备注"`
	CreatedAt     time.Time       `gorm:"index;comment:创建时间"`
}

// TableName 指定表名
func (ReservationAuditModel) TableName() string {
	return "reservation_audits"
}

// OutboxEventModel GORM发件箱模型
// 教学要点:published+created_at复合索引服务搬运器的轮询查询
type OutboxEventModel struct {
	ID          uint       `gorm:"primaryKey"`
	EventID     string     `gorm:"uniqueIndex;size:36;not null;comment:全局事件ID"`
	EventType   string     `gorm:"size:48;not null;comment:事件类型"`
	AggregateID uint       `gorm:"index;comment:聚合根ID"`
	Payload     []byte     `gorm:"type:json;comment:JSON载荷"`
	Published   bool       `gorm:"index:idx_drain;not null;default:0;comment:是否已投递"`
	PublishedAt *time.Time `gorm:"comment:投递时间"`
	CreatedAt   time.Time  `gorm:"index:idx_drain;comment:创建时间"`
}

// TableName 指定表名
func (OutboxEventModel) TableName() string {
	return "outbox_events"
}

// LotFamilySummaryModel GORM批次族汇总模型(物化视图)
// 教学要点:(product_id, warehouse_id)唯一,整行由Recompute全量覆盖
type LotFamilySummaryModel struct {
	ID               uint            `gorm:"primaryKey"`
	ProductID        uint            `gorm:"uniqueIndex:idx_family_uq;not null;comment:产品ID"`
	WarehouseID      uint            `gorm:"uniqueIndex:idx_family_uq;not null;comment:仓库ID"`
	TotalReceivedQty decimal.Decimal `gorm:"type:decimal(18,3);not null;comment:收货总量"`
	TotalLockedQty   decimal.Decimal `gorm:"type:decimal(18,3);not null;comment:冻结总量"`
	LotCount         int             `gorm:"not null;comment:批次数"`
	UpdatedAt        time.Time       `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (LotFamilySummaryModel) TableName() string {
	return "lot_family_summaries"
}
