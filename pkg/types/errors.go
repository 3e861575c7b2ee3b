// Package types 定义 topicreg 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import "errors"

// ============================================================================
//                              句柄相关错误
// ============================================================================

var (
	// ErrEmptyNodeAddress 空节点地址
	ErrEmptyNodeAddress = errors.New("empty node address")

	// ErrEmptySubscriberID 空订阅者 ID
	ErrEmptySubscriberID = errors.New("empty subscriber ID")
)

// ============================================================================
//                              配置相关错误
// ============================================================================

var (
	// ErrInvalidWriteConsistency 无效的写一致性
	ErrInvalidWriteConsistency = errors.New("invalid write consistency")

	// ErrInvalidBackoff 无效的退避策略
	ErrInvalidBackoff = errors.New("invalid backoff kind")
)

// ============================================================================
//                              复制相关错误
// ============================================================================

var (
	// ErrWriteTimeout 复制写入超时
	ErrWriteTimeout = errors.New("replication write timeout")

	// ErrConsistencyNotReached 未达到要求的写一致性
	ErrConsistencyNotReached = errors.New("write consistency not reached")
)
