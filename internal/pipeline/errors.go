package pipeline

import "fmt"

// ValidationError VALIDATE 阶段失败（致命，分析不会开始）
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// OrganizeError ORGANIZE 阶段失败：事实完全缺失，无法构建报告
type OrganizeError struct {
	Reason string
}

func (e *OrganizeError) Error() string {
	return fmt.Sprintf("organize failed: %s", e.Reason)
}

// PersistenceError OUTPUT 阶段失败：报告已算出但未持久化
//
// 与分析失败严格区分，调用方可凭此只重试持久化而不重新分析。
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
