// Package domain 回购交易引擎领域层
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTradeNotFound       = errors.New("repo trade not found")
	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrCollateralNotFound  = errors.New("collateral position not found")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrSecurityNotFound    = errors.New("security not found")
)

// ValidationError 输入校验失败，在任何写入发生之前返回
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError 创建校验错误
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError 并发状态冲突（乐观锁失败、唯一约束冲突、重复审批）
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

// NewConflictError 创建冲突错误
func NewConflictError(resource, reason string) error {
	return &ConflictError{Resource: resource, Reason: reason}
}

// PolicyViolation 业务策略违规（质押不足、自我审批、权限缺失）
type PolicyViolation struct {
	Rule   string
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation [%s]: %s", e.Rule, e.Reason)
}

// NewPolicyViolation 创建策略违规错误
func NewPolicyViolation(rule, reason string) error {
	return &PolicyViolation{Rule: rule, Reason: reason}
}

// DependencyFailure 外部依赖失败（符号生成、持久化中途失败），
// 触发该操作的所有部分写入回滚
type DependencyFailure struct {
	Dependency string
	Err        error
}

func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyFailure) Unwrap() error { return e.Err }

// NewDependencyFailure 创建依赖失败错误
func NewDependencyFailure(dependency string, err error) error {
	return &DependencyFailure{Dependency: dependency, Err: err}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict 判断是否为冲突错误
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsPolicyViolation 判断是否为策略违规
func IsPolicyViolation(err error) bool {
	var pe *PolicyViolation
	return errors.As(err, &pe)
}

// IsDependencyFailure 判断是否为外部依赖失败
func IsDependencyFailure(err error) bool {
	var de *DependencyFailure
	return errors.As(err, &de)
}
