package framebuffer

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind 错误类别
// 取值同时用作聚合器中的错误码，必须非零
type Kind int32

const (
	KindDeviceUnavailable Kind = iota + 1 // 设备无法打开或无法接管
	KindCapabilityMissing                 // 不支持垂直同步、帧数不足或几何信息不可用
	KindQueryFailed                       // vblank或屏幕信息查询失败
	KindMappingFailed                     // 映射帧缓冲区内存失败
	KindTransient                         // 等待垂直同步或翻转时设备出错
	KindTeardown                          // 关闭会话时某一步失败，设备归属状态未知
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindCapabilityMissing:
		return "capability missing"
	case KindQueryFailed:
		return "query failed"
	case KindMappingFailed:
		return "mapping failed"
	case KindTransient:
		return "transient device error"
	case KindTeardown:
		return "teardown failed"
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Error 会话操作返回的错误
// Msg是第一个失败的可读原因，Status是宿主返回的原始状态（有的话）
type Error struct {
	Kind   Kind
	Msg    string
	Status int
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "framebuffer: " + e.Kind.String()
	}
	return fmt.Sprintf("framebuffer: %s: %s", e.Kind, e.Msg)
}

// Is 让errors.Is能按类别匹配哨兵错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// 按类别匹配的哨兵错误，配合errors.Is使用
var (
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrCapabilityMissing = &Error{Kind: KindCapabilityMissing}
	ErrQueryFailed       = &Error{Kind: KindQueryFailed}
	ErrMappingFailed     = &Error{Kind: KindMappingFailed}
	ErrTransient         = &Error{Kind: KindTransient}
	ErrTeardown          = &Error{Kind: KindTeardown}
)

// ErrClosed 在已关闭的会话上调用操作
var ErrClosed = errors.New("framebuffer: 会话已关闭")
