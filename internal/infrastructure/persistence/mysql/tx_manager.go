package mysql

import (
	"context"

	"gorm.io/gorm"
)

// txKey 事务在context中的键
// 教学要点:用私有类型做键,外部包无法构造出相同的键,不会冲突
type txKey struct{}

// TxManager 事务管理器
// 教学要点:
// 1. 封装GORM的Transaction方法
// 2. 通过context传递事务DB(避免全局变量)
// 3. 实现domain层的shared.TxManager接口,应用层不依赖GORM
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction 执行事务
// 教学要点:
// 1. fn函数内的所有Repository操作都会在同一事务中执行
// 2. fn返回error时自动ROLLBACK,返回nil时自动COMMIT
// 3. 批次行锁(SELECT FOR UPDATE)在COMMIT/ROLLBACK时释放
//
// 使用示例:
//
//	err := txManager.WithTransaction(ctx, func(ctx context.Context) error {
//	    // 1. 锁定批次行
//	    l, err := lotRepo.LockByID(ctx, lotID)
//	    if err != nil {
//	        return err
//	    }
//	    // 2. 锁内校验+写入
//	    err = resvRepo.Create(ctx, r)
//	    return err // nil则提交,非nil则回滚
//	})
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 将事务DB注入Context,Repository的getDB会取出它
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// getDB 从context获取事务DB,没有则使用默认DB
// 教学要点:事务传递机制,所有仓储共用这一个函数
func getDB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
