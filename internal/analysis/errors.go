package analysis

import "fmt"

// CapabilityUnavailableError 外部分析能力不可用（工具未安装等）
//
// 与 MalformedInputError 区分：能力缺失可降级继续，输入损坏则不行。
type CapabilityUnavailableError struct {
	Capability string
	Err        error
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("capability %s unavailable: %v", e.Capability, e.Err)
}

func (e *CapabilityUnavailableError) Unwrap() error {
	return e.Err
}

// MalformedInputError 输入包结构损坏，无法提取
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed input: %s", e.Reason)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// DecompileError 反编译失败（始终可恢复）
type DecompileError struct {
	Err error
}

func (e *DecompileError) Error() string {
	return fmt.Sprintf("decompile failed: %v", e.Err)
}

func (e *DecompileError) Unwrap() error {
	return e.Err
}
