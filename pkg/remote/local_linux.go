//go:build linux

package remote

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Local 直接在本进程内发起系统调用的宿主
// 适用于调用方本身就有权限的普通单地址空间目标，此时暂存区只是普通内存
type Local struct {
	mu   sync.Mutex
	maps map[uintptr][]byte // 映射基址 -> 映射内存
}

// NewLocal 创建本地宿主
func NewLocal() *Local {
	return &Local{maps: make(map[uintptr][]byte)}
}

// Open 打开设备文件
func (l *Local) Open(path string, flags int) int {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return errnoStatus(err)
	}
	return fd
}

// Ioctl 执行ioctl系统调用，arg直接作为参数指针
func (l *Local) Ioctl(fd int, req uint, arg []byte) int {
	var p unsafe.Pointer
	if len(arg) > 0 {
		p = unsafe.Pointer(&arg[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(p))
	runtime.KeepAlive(arg)
	if errno != 0 {
		return -int(errno)
	}
	return 0
}

// Mmap 映射设备内存
// unix.Mmap不接受地址提示，hint被忽略
func (l *Local) Mmap(hint uintptr, length int, prot, flags, fd int, off int64) uintptr {
	data, err := unix.Mmap(fd, off, length, prot, flags)
	if err != nil || len(data) == 0 {
		return MapFailed
	}
	addr := uintptr(unsafe.Pointer(&data[0]))

	l.mu.Lock()
	l.maps[addr] = data
	l.mu.Unlock()
	return addr
}

// Munmap 解除映射，addr和length必须与Mmap时一致
func (l *Local) Munmap(addr uintptr, length int) int {
	l.mu.Lock()
	data, ok := l.maps[addr]
	if ok && len(data) == length {
		delete(l.maps, addr)
	}
	l.mu.Unlock()

	if !ok || len(data) != length {
		return -int(unix.EINVAL)
	}
	if err := unix.Munmap(data); err != nil {
		return errnoStatus(err)
	}
	return 0
}

// Close 关闭句柄
func (l *Local) Close(fd int) int {
	if err := unix.Close(fd); err != nil {
		return errnoStatus(err)
	}
	return 0
}

// Bytes 返回落在某个映射内的内存切片，不在任何映射内时返回nil
func (l *Local) Bytes(addr uintptr, length int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	for base, data := range l.maps {
		if addr >= base && addr+uintptr(length) <= base+uintptr(len(data)) {
			off := int(addr - base)
			return data[off : off+length : off+length]
		}
	}
	return nil
}

// errnoStatus 按宿主调用约定把错误转换为负的errno
func errnoStatus(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return -int(errno)
	}
	return -int(unix.EIO)
}
