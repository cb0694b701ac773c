// Package saga 实现通用的Saga补偿事务框架
//
// Saga模式核心思想：
// 1. 将跨系统的长事务拆分为多个本地短事务
// 2. 每个短事务有对应的补偿操作
// 3. 如果某步失败，按逆序执行已完成步骤的补偿操作
//
// 本项目的典型场景：已确认预留的撤销
// - 已确认的预留在外部ERP中有登记单据，不能直接释放
// - 正确流程：先撤销外部登记，再释放本地预留
// - 第二步失败时需要补偿第一步（重新登记），否则两边状态不一致
//
// 教学要点：
// - Saga保证"最终一致性"，而非"强一致性"
// - 补偿操作必须幂等（网络故障可能导致重试）
// - 补偿失败需要人工介入或重试机制
package saga

import (
	"context"
	"fmt"
	"time"
)

// Step 表示Saga中的一个步骤
//
// 设计要点：
// 1. Action是正向操作（如撤销外部登记）
// 2. Compensate是补偿操作（如重新登记）
// 3. 每个操作都必须支持幂等（允许重试）
type Step struct {
	Name       string                          // 步骤名称（用于日志和调试）
	Action     func(ctx context.Context) error // 正向操作
	Compensate func(ctx context.Context) error // 补偿操作
}

// Saga 表示一个Saga事务
type Saga struct {
	steps    []Step        // 所有步骤
	executed []Step        // 已执行的步骤（用于补偿）
	timeout  time.Duration // 整体超时时间
}

// NewSaga 创建一个新的Saga事务
//
// 示例：
//
//	sg := saga.NewSaga(30 * time.Second)
//	sg.AddStep("撤销外部登记", cancelRegistration, reRegister)
//	sg.AddStep("释放本地预留", releaseReservation, nil)
//	err := sg.Execute(ctx)
func NewSaga(timeout time.Duration) *Saga {
	return &Saga{
		steps:   make([]Step, 0),
		timeout: timeout,
	}
}

// AddStep 添加一个Saga步骤
//
// 设计原则：
// 1. 步骤顺序很重要（按添加顺序执行，按逆序补偿）
// 2. Action和Compensate都可以为nil（如最后一步通常无需补偿）
// 3. 补偿操作必须完全独立，只依赖自己步骤的Action结果
func (s *Saga) AddStep(name string, action, compensate func(ctx context.Context) error) {
	s.steps = append(s.steps, Step{
		Name:       name,
		Action:     action,
		Compensate: compensate,
	})
}

// Execute 执行Saga事务
//
// 执行流程：
// 1. 按顺序执行每个步骤的Action
// 2. 如果某步失败，触发补偿流程（逆序执行已完成步骤的Compensate）
// 3. 返回错误信息
//
// 超时处理：
// - 整体超时时间由NewSaga的timeout参数指定
// - 超时时会立即触发补偿流程
func (s *Saga) Execute(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for i, step := range s.steps {
		select {
		case <-ctx.Done():
			// 超时，触发补偿
			// 补偿使用新Context，避免补偿本身也被超时打断
			s.compensate(context.Background())
			return fmt.Errorf("saga超时: %w", ctx.Err())
		default:
		}

		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				s.compensate(context.Background())
				return fmt.Errorf("步骤[%d:%s]执行失败: %w", i, step.Name, err)
			}
		}

		// 记录已执行的步骤（用于补偿）
		s.executed = append(s.executed, step)
	}

	return nil
}

// compensate 执行补偿流程
//
// 补偿原则：
// 1. 按逆序执行已完成步骤的Compensate
// 2. 即使某个Compensate失败，也继续执行后续补偿（尽最大努力）
//
// 为什么逆序？
// - 后执行的步骤可能依赖先执行的步骤
// - 示例：先"撤销外部登记"，后"释放本地预留"
//   补偿时应先恢复本地预留，再重新登记
//
// 补偿失败的处理：
// - 记录日志（需要人工介入）
// - 生产环境应写入补偿失败表并触发告警
func (s *Saga) compensate(ctx context.Context) {
	for i := len(s.executed) - 1; i >= 0; i-- {
		step := s.executed[i]

		if step.Compensate != nil {
			if err := step.Compensate(ctx); err != nil {
				// 补偿失败：记录日志，继续执行后续补偿
				fmt.Printf("补偿失败[步骤:%s]: %v\n", step.Name, err)
			}
		}
	}

	s.executed = nil
}
