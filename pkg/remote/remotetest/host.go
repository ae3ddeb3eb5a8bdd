// remotetest包提供一个在内存中模拟帧缓冲区设备的宿主，记录每一次远程调用
package remotetest

import (
	"encoding/binary"
	"unsafe"

	"go-framebuffer-flip/pkg/fbdev"
	"go-framebuffer-flip/pkg/remote"
)

// Op 远程调用类型
type Op string

const (
	OpOpen   Op = "open"
	OpIoctl  Op = "ioctl"
	OpMmap   Op = "mmap"
	OpMunmap Op = "munmap"
	OpClose  Op = "close"
)

// 模拟的errno
const (
	EBADF  = 9
	EFAULT = 14
	EINVAL = 22
	EIO    = 5
	ENOENT = 2
)

// Call 一次远程调用的记录
type Call struct {
	Op     Op
	Path   string
	Fd     int
	Req    uint
	Arg    uintptr // ioctl参数地址，nil参数为0
	Value  uint32  // ioctl参数的第一个32位字
	Addr   uintptr // mmap返回或munmap传入的地址
	Length int
	Status int
}

// Host 模拟宿主
// 字段可在测试中直接修改以注入失败
type Host struct {
	Screen      fbdev.ScreenInfo
	VBlankFlags uint32

	FailOpen   bool
	FailMmap   bool
	FailMunmap bool
	FailClose  bool
	FailIoctl  map[uint]bool // 按请求码注入ioctl失败

	Calls []Call

	Owned     bool   // PS3FB_IOCTL_ON之后为true
	Vsyncs    int    // 等待垂直同步的次数
	Displayed uint32 // 最近一次FSEL选中的帧

	nextFd  int
	open    map[int]bool
	maps    map[uintptr][]byte
	nextMap uintptr
}

// NewHost 创建支持垂直同步、屏幕信息为screen的模拟宿主
func NewHost(screen fbdev.ScreenInfo) *Host {
	return &Host{
		Screen:      screen,
		VBlankFlags: fbdev.FB_VBLANK_HAVE_VSYNC,
		FailIoctl:   make(map[uint]bool),
		nextFd:      3,
		open:        make(map[int]bool),
		maps:        make(map[uintptr][]byte),
		nextMap:     0x10000000,
	}
}

var _ remote.Host = (*Host)(nil)
var _ remote.Memory = (*Host)(nil)

func (h *Host) Open(path string, flags int) int {
	status := -ENOENT
	if !h.FailOpen {
		status = h.nextFd
		h.open[status] = true
		h.nextFd++
	}
	h.Calls = append(h.Calls, Call{Op: OpOpen, Path: path, Fd: status, Status: status})
	return status
}

func (h *Host) Ioctl(fd int, req uint, arg []byte) int {
	call := Call{Op: OpIoctl, Fd: fd, Req: req}
	if len(arg) > 0 {
		call.Arg = uintptr(unsafe.Pointer(&arg[0]))
	}
	if len(arg) >= 4 {
		call.Value = binary.NativeEndian.Uint32(arg)
	}
	call.Status = h.ioctl(fd, req, arg)
	h.Calls = append(h.Calls, call)
	return call.Status
}

func (h *Host) ioctl(fd int, req uint, arg []byte) int {
	if !h.open[fd] {
		return -EBADF
	}
	if h.FailIoctl[req] {
		return -EIO
	}
	switch req {
	case fbdev.FBIOGET_VBLANK:
		vb := fbdev.VBlank{Flags: h.VBlankFlags, Count: uint32(h.Vsyncs)}
		return h.deposit(arg, fbdev.AsBytes(&vb))
	case fbdev.PS3FB_IOCTL_SCREENINFO:
		info := h.Screen
		return h.deposit(arg, fbdev.AsBytes(&info))
	case fbdev.PS3FB_IOCTL_ON:
		h.Owned = true
	case fbdev.PS3FB_IOCTL_OFF:
		h.Owned = false
	case fbdev.FBIO_WAITFORVSYNC:
		if len(arg) < 4 {
			return -EFAULT
		}
		h.Vsyncs++
	case fbdev.PS3FB_IOCTL_FSEL:
		if len(arg) < 4 {
			return -EFAULT
		}
		h.Displayed = binary.NativeEndian.Uint32(arg)
	default:
		return -EINVAL
	}
	return 0
}

// deposit 把结果结构体写入宿主可寻址的参数内存
func (h *Host) deposit(arg, record []byte) int {
	if len(arg) < len(record) {
		return -EFAULT
	}
	copy(arg, record)
	return 0
}

func (h *Host) Mmap(hint uintptr, length int, prot, flags, fd int, off int64) uintptr {
	addr := remote.MapFailed
	if !h.FailMmap && h.open[fd] && length > 0 {
		addr = h.nextMap
		h.maps[addr] = make([]byte, length)
		// 相邻映射之间留出间隔
		h.nextMap += uintptr(length+0xfff)&^0xfff + 0x1000
	}
	h.Calls = append(h.Calls, Call{Op: OpMmap, Fd: fd, Addr: addr, Length: length})
	return addr
}

func (h *Host) Munmap(addr uintptr, length int) int {
	status := 0
	switch data, ok := h.maps[addr]; {
	case h.FailMunmap:
		status = -EIO
	case !ok || len(data) != length:
		status = -EINVAL
	default:
		delete(h.maps, addr)
	}
	h.Calls = append(h.Calls, Call{Op: OpMunmap, Addr: addr, Length: length, Status: status})
	return status
}

func (h *Host) Close(fd int) int {
	status := 0
	switch {
	case h.FailClose:
		status = -EIO
	case !h.open[fd]:
		status = -EBADF
	default:
		delete(h.open, fd)
	}
	h.Calls = append(h.Calls, Call{Op: OpClose, Fd: fd, Status: status})
	return status
}

// Bytes 返回模拟映射的内存
func (h *Host) Bytes(addr uintptr, length int) []byte {
	for base, data := range h.maps {
		if addr >= base && addr+uintptr(length) <= base+uintptr(len(data)) {
			off := int(addr - base)
			return data[off : off+length : off+length]
		}
	}
	return nil
}

// CallsOf 返回某类调用的全部记录
func (h *Host) CallsOf(op Op) []Call {
	var calls []Call
	for _, c := range h.Calls {
		if c.Op == op {
			calls = append(calls, c)
		}
	}
	return calls
}

// Ioctls 返回请求码为req的ioctl记录
func (h *Host) Ioctls(req uint) []Call {
	var calls []Call
	for _, c := range h.Calls {
		if c.Op == OpIoctl && c.Req == req {
			calls = append(calls, c)
		}
	}
	return calls
}

// OpenFds 返回尚未关闭的句柄数
func (h *Host) OpenFds() int { return len(h.open) }

// Mappings 返回尚未解除的映射数
func (h *Host) Mappings() int { return len(h.maps) }
