package ddata

import (
	"errors"

	"github.com/dep2p/go-topicreg/pkg/types"
)

var (
	// ErrWriteTimeout 复制写入超时
	ErrWriteTimeout = types.ErrWriteTimeout

	// ErrConsistencyNotReached 未达到要求的写一致性
	ErrConsistencyNotReached = types.ErrConsistencyNotReached

	// ErrClosed 同步器已关闭
	ErrClosed = errors.New("ddata: synchronizer closed")

	// ErrAlreadyWatching 已在监听多值映射
	ErrAlreadyWatching = errors.New("ddata: already watching")

	// ErrNilMultimap 未提供多值映射
	ErrNilMultimap = errors.New("ddata: nil multimap")

	// ErrMalformedBinding 绑定编码损坏
	ErrMalformedBinding = errors.New("ddata: malformed binding")
)
