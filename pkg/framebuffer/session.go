// framebuffer包实现了双缓冲虚拟帧缓冲区的会话生命周期
// 实际像素由图形单元在每次垂直消隐时从内存复制到显示器，
// 本包负责通过远程调用接管设备、计算双缓冲布局、等待垂直同步和翻转
//
// 会话不持有锁，同一个会话上的操作不能并发调用
package framebuffer

import (
	"encoding/binary"
	"fmt"
	"image"
	"log"
	"os"

	"github.com/juju/errors"

	"go-framebuffer-flip/pkg/fbdev"
	"go-framebuffer-flip/pkg/fold"
	"go-framebuffer-flip/pkg/geometry"
	"go-framebuffer-flip/pkg/remote"
	"go-framebuffer-flip/pkg/scratch"
)

// Session 已打开的帧缓冲区会话
// 布局字段在Open之后不再改变
type Session struct {
	proxy  *remote.Proxy
	region scratch.Region // 本会话独占的暂存区，存放两个翻转选择常量
	fd     int
	layout geometry.Layout
	closed bool
}

// Open 打开设备并建立双缓冲会话
// 参数proxy: 远程调用代理  参数block: 暂存内存块，必须比会话活得更久
// 参数device: 帧缓冲区设备路径，如"/dev/fb0"
//
// 所有查询都会执行，只有第一个失败会被返回；
// 在映射之前出现的任何失败都会阻止映射的建立。失败时已获取的资源会被释放
func Open(proxy *remote.Proxy, block *scratch.Block, device string) (*Session, error) {
	region := block.Region()
	var f fold.Fold

	// 打开帧缓冲区设备
	fd := proxy.Open(device, os.O_RDWR)
	f.Record(fold.Neg(int32(fd))&int32(KindDeviceUnavailable),
		fmt.Sprintf("无法打开%s，请检查权限", device))

	// 查询垂直同步能力
	var vblank fbdev.VBlank
	status := proxy.Ioctl(fd, fbdev.FBIOGET_VBLANK, fbdev.AsBytes(&vblank), region.Slot(scratch.VBlank))
	f.Record(fold.Neg(int32(status))&int32(KindQueryFailed),
		"无法获取vblank信息 (FBIOGET_VBLANK)")
	f.Record(fold.Zero(int32(vblank.Flags&fbdev.FB_VBLANK_HAVE_VSYNC))&int32(KindCapabilityMissing),
		"设备不支持垂直同步 (FB_VBLANK_HAVE_VSYNC)")

	// 查询分辨率、消隐偏移和帧数
	var res fbdev.ScreenInfo
	status = proxy.Ioctl(fd, fbdev.PS3FB_IOCTL_SCREENINFO, fbdev.AsBytes(&res), region.Slot(scratch.ScreenInfo))
	f.Record(fold.Neg(int32(status))&int32(KindQueryFailed),
		"无法获取屏幕信息 (PS3FB_IOCTL_SCREENINFO)")
	f.Record(geometry.DoubleBuffered(res)&int32(KindCapabilityMissing),
		fmt.Sprintf("可用帧数为%d，无法使用双缓冲", res.NumFrames))
	f.Record(geometry.Drawable(res)&int32(KindCapabilityMissing),
		fmt.Sprintf("消隐偏移(%d,%d)超出分辨率%dx%d", res.Xoff, res.Yoff, res.Xres, res.Yres))

	if !f.OK() {
		return nil, abortOpen(proxy, &f, fd, remote.MapFailed, 0)
	}

	// 映射双缓冲内存
	size := geometry.DoubleBufferSize(res)
	base := proxy.Mmap(0, size, fbdev.ProtRead|fbdev.ProtWrite, fbdev.MapShared, fd, 0)
	f.Record(fold.TopBit(base)&int32(KindMappingFailed),
		fmt.Sprintf("无法映射%d字节的帧缓冲区内存", size))

	if !f.OK() {
		return nil, abortOpen(proxy, &f, fd, remote.MapFailed, 0)
	}

	// 从内核接管帧缓冲区
	status = proxy.Control(fd, fbdev.PS3FB_IOCTL_ON, nil)
	f.Record(fold.Neg(int32(status))&int32(KindDeviceUnavailable),
		"无法从内核接管帧缓冲区 (PS3FB_IOCTL_ON)")

	if !f.OK() {
		return nil, abortOpen(proxy, &f, fd, base, size)
	}

	// 写入等待和翻转命令使用的常量
	// ioctl参数必须是宿主可寻址的内存，所以常量经由暂存区传递而不是按值传递
	var zero, one [scratch.ConstSize]byte
	binary.NativeEndian.PutUint32(one[:], 1)
	proxy.Put(region.Const(0), zero[:])
	proxy.Put(region.Const(1), one[:])

	layout := geometry.Compute(res, base)
	log.Printf("帧缓冲区%s已打开: %dx%d, 可绘制%dx%d, 偏移(%d,%d), 帧数%d",
		device, res.Xres, res.Yres, layout.Width, layout.Height, res.Xoff, res.Yoff, res.NumFrames)

	return &Session{
		proxy:  proxy,
		region: region,
		fd:     fd,
		layout: layout,
	}, nil
}

// abortOpen 释放Open过程中已获取的资源并返回聚合的错误
func abortOpen(proxy *remote.Proxy, f *fold.Fold, fd int, base uintptr, size int) error {
	if base != remote.MapFailed {
		if status := proxy.Munmap(base, size); status < 0 {
			log.Printf("释放帧缓冲区映射失败: %d", status)
		}
	}
	if fd >= 0 {
		if status := proxy.Close(fd); status < 0 {
			log.Printf("关闭帧缓冲区设备失败: %d", status)
		}
	}
	err := &Error{Kind: Kind(f.Code()), Msg: f.Message()}
	log.Printf("打开帧缓冲区失败: %v", err)
	return err
}

// WaitVsync 阻塞直到下一次垂直消隐
// 阻塞时长由显示刷新率决定，没有超时也无法取消
func (s *Session) WaitVsync() error {
	if s.closed {
		return ErrClosed
	}
	if status := s.proxy.Control(s.fd, fbdev.FBIO_WAITFORVSYNC, s.region.Const(0)); status < 0 {
		return &Error{Kind: KindTransient, Msg: "等待垂直同步失败 (FBIO_WAITFORVSYNC)", Status: status}
	}
	return nil
}

// Flip 选择下一次显示的缓冲区
// 参数sel: 缓冲区序号，只能是0或1
func (s *Session) Flip(sel int) error {
	if s.closed {
		return ErrClosed
	}
	if sel != 0 && sel != 1 {
		return errors.NotValidf("缓冲区序号%d", sel)
	}
	if status := s.proxy.Control(s.fd, fbdev.PS3FB_IOCTL_FSEL, s.region.Const(sel)); status < 0 {
		return &Error{Kind: KindTransient, Msg: fmt.Sprintf("切换到缓冲区%d失败 (PS3FB_IOCTL_FSEL)", sel), Status: status}
	}
	return nil
}

// Close 将设备控制权交还内核、解除映射并关闭设备
// 每一步都会执行；任何一步失败都意味着宿主一侧的设备归属状态未知，
// 所有失败都会写入日志，第一个失败的原因以KindTeardown返回。重复关闭不做任何事
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	steps := [...]struct {
		status int
		msg    string
	}{
		{s.proxy.Control(s.fd, fbdev.PS3FB_IOCTL_OFF, nil), "无法将帧缓冲区控制权交还内核 (PS3FB_IOCTL_OFF)"},
		{s.proxy.Munmap(s.layout.Addr[0], s.layout.Size), "释放帧缓冲区映射失败"},
		{s.proxy.Close(s.fd), "关闭帧缓冲区设备失败"},
	}

	var f fold.Fold
	for _, step := range steps {
		if step.status < 0 {
			log.Printf("%s: %d", step.msg, step.status)
		}
		f.Record(fold.Neg(int32(step.status))&int32(KindTeardown), step.msg)
	}
	if !f.OK() {
		return &Error{Kind: KindTeardown, Msg: f.Message()}
	}
	return nil
}

// Stride 每行像素数
func (s *Session) Stride() int { return s.layout.Stride }

// Width 可绘制宽度
func (s *Session) Width() int { return s.layout.Width }

// Height 可绘制高度
func (s *Session) Height() int { return s.layout.Height }

// Origin 可绘制区域在每一帧内的左上角
func (s *Session) Origin() image.Point {
	return image.Pt(s.layout.OriginX, s.layout.OriginY)
}

// BufferAddr 缓冲区i的起始地址
func (s *Session) BufferAddr(i int) uintptr { return s.layout.Addr[i&1] }

// Size 映射的双缓冲总字节数
func (s *Session) Size() int { return s.layout.Size }

// Layout 返回完整的缓冲区布局
func (s *Session) Layout() geometry.Layout { return s.layout }

// Frame 返回缓冲区i上的可绘制图像，边界为可绘制矩形
// 需要宿主支持直接访问映射内存
func (s *Session) Frame(i int) (*Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if i != 0 && i != 1 {
		return nil, errors.NotValidf("缓冲区序号%d", i)
	}
	pix, ok := s.proxy.Bytes(s.layout.Addr[i], s.layout.FrameSize)
	if !ok {
		return nil, errors.NotSupportedf("宿主不支持直接访问映射内存")
	}
	origin := s.Origin()
	return &Frame{
		Pix:    pix,
		Stride: s.layout.Stride * fbdev.BytesPerPixel,
		Rect:   image.Rectangle{Min: origin, Max: origin.Add(image.Pt(s.layout.Width, s.layout.Height))},
	}, nil
}
