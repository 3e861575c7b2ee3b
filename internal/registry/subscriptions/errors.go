package subscriptions

import "errors"

// 错误定义
var (
	// ErrInvalidSubscriber 无效的订阅者句柄
	ErrInvalidSubscriber = errors.New("subscriptions: invalid subscriber")

	// ErrEmptyTopic 空主题
	ErrEmptyTopic = errors.New("subscriptions: empty topic")

	// ErrNilFamily 哈希函数族为 nil
	ErrNilFamily = errors.New("subscriptions: hash family is nil")
)
