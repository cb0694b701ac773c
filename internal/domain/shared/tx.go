package shared

import "context"

// TxManager 事务管理器接口
// 教学要点:应用层编排事务边界,但不依赖具体ORM
// 实现将事务句柄塞进context向下传递,仓储实现从context取出
// fn返回错误则回滚,返回nil则提交
//
// 使用纪律:fn内的第一条语句必须是FOR UPDATE锁行,
// 定位、筛选、规划等普通读一律放在事务外面
// MySQL默认REPEATABLE READ下,事务的第一条普通SELECT会钉死快照;
// 锁前读过,锁内重验读到的就是等锁之前的旧数据
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
