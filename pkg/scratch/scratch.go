// scratch包定义了16字节对齐的暂存区布局
// 暂存区是远程调用服务写入结果的落地区，同时存放翻转命令使用的两个常量
// 本包从不分配内存，只在调用方提供的内存块上计算各子记录的偏移
package scratch

import (
	"unsafe"

	"go-framebuffer-flip/pkg/fbdev"
)

const (
	Align     = 16  // 起始地址对齐字节数
	Size      = 128 // 暂存区固定大小
	ConstSize = 16  // 每个翻转选择常量占用的字节数
)

const (
	vblankSize = (unsafe.Sizeof(fbdev.VBlank{}) + Align - 1) &^ (Align - 1)
	screenSize = (unsafe.Sizeof(fbdev.ScreenInfo{}) + Align - 1) &^ (Align - 1)
	layoutSize = vblankSize + screenSize + 2*ConstSize
)

// 子记录增长导致布局超过Size时编译失败
var _ [Size - layoutSize]struct{}

// Slot 暂存区中的子记录
type Slot int

const (
	VBlank     Slot = iota // FBIOGET_VBLANK结果
	ScreenInfo             // PS3FB_IOCTL_SCREENINFO结果
	Const0                 // 翻转选择常量0
	Const1                 // 翻转选择常量1
	numSlots
)

var (
	offsets = [numSlots]uintptr{0, vblankSize, vblankSize + screenSize, vblankSize + screenSize + ConstSize}
	sizes   = [numSlots]uintptr{vblankSize, screenSize, ConstSize, ConstSize}
)

// Block 调用方持有的暂存内存块
// 多出的Align-1字节用于在任意起始地址上找到对齐的Size字节区域
// Block必须比使用它的会话活得更久
type Block struct {
	buf [Size + Align - 1]byte
}

// Region 返回块内16字节对齐的暂存区视图
func (b *Block) Region() Region {
	base := uintptr(unsafe.Pointer(&b.buf[0]))
	off := (Align - base&(Align-1)) & (Align - 1)
	return Region{mem: b.buf[off : off+Size : off+Size]}
}

// Region 对齐后的暂存区
type Region struct {
	mem []byte
}

// Slot 返回子记录所在的内存，长度为向上取整到16字节后的大小
func (r Region) Slot(s Slot) []byte {
	o, n := offsets[s], sizes[s]
	return r.mem[o : o+n : o+n]
}

// Const 返回翻转选择常量i所在的内存
func (r Region) Const(i int) []byte {
	return r.Slot(Const0 + Slot(i&1))
}

// Addr 返回子记录的起始地址，即远程一侧看到的地址
func (r Region) Addr(s Slot) uintptr {
	return uintptr(unsafe.Pointer(&r.mem[offsets[s]]))
}

// Bytes 返回整个暂存区
func (r Region) Bytes() []byte {
	return r.mem
}
