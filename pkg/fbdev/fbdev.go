// fbdev包定义了帧缓冲区设备协议中用到的ioctl请求码和结果结构体
// 结构体布局必须与内核头文件<linux/fb.h>和<asm/ps3fb.h>完全一致
package fbdev

import "unsafe"

// BytesPerPixel 每像素字节数，PS3虚拟帧缓冲区固定为32位色深
const BytesPerPixel = 4

// FB_VBLANK_HAVE_VSYNC vblank标志位：设备支持垂直同步
const FB_VBLANK_HAVE_VSYNC = 0x100

// mmap参数，取值与Linux一致
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	MapShared = 0x1
)

// VBlank 垂直消隐信息结构体
// 对应Linux内核中的fb_vblank结构
type VBlank struct {
	Flags    uint32    // 能力与状态标志
	Count    uint32    // 已发生的vblank次数
	VCount   uint32    // 当前扫描行
	HCount   uint32    // 当前扫描列
	Reserved [4]uint32 // 保留字段
}

// ScreenInfo 屏幕信息结构体
// 对应ps3fb_ioctl_res结构，包含原始分辨率、消隐偏移和可用帧数
type ScreenInfo struct {
	Xres      uint32 // 水平分辨率（像素）
	Yres      uint32 // 垂直分辨率（像素）
	Xoff      uint32 // 水平消隐偏移（像素）
	Yoff      uint32 // 垂直消隐偏移（行）
	NumFrames uint32 // 可用帧数
}

// 帧缓冲区相关的ioctl请求码
// 方向位的编码随体系结构变化，见ioc_*.go
const (
	FBIOGET_VBLANK    = iocRead<<iocDirShift | uint(unsafe.Sizeof(VBlank{}))<<iocSizeShift | 'F'<<8 | 0x12
	FBIO_WAITFORVSYNC = iocWrite<<iocDirShift | 4<<iocSizeShift | 'F'<<8 | 0x20

	PS3FB_IOCTL_SCREENINFO = iocRead<<iocDirShift | 4<<iocSizeShift | 'r'<<8 | 3
	PS3FB_IOCTL_ON         = iocNone<<iocDirShift | 'r'<<8 | 4
	PS3FB_IOCTL_OFF        = iocNone<<iocDirShift | 'r'<<8 | 5
	PS3FB_IOCTL_FSEL       = iocWrite<<iocDirShift | 4<<iocSizeShift | 'r'<<8 | 6
)

const iocSizeShift = 16

// AsBytes 以字节切片的形式访问结果结构体，用于接收块传输读回的数据
func AsBytes[T VBlank | ScreenInfo](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
