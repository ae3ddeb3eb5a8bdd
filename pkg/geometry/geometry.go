// geometry包根据宿主返回的原始屏幕信息计算可绘制区域和双缓冲地址
//
// 消隐偏移区域被视为禁区，并在右侧和底部留出同样宽度的边框，
// 使画面保持居中，尽管不再铺满整个物理光栅
package geometry

import (
	"go-framebuffer-flip/pkg/fbdev"
)

// Layout 会话使用的缓冲区布局
type Layout struct {
	Stride    int        // 每行像素数（原始水平分辨率）
	Width     int        // 可绘制宽度（像素）
	Height    int        // 可绘制高度（行）
	OriginX   int        // 可绘制区域在帧内的左上角X
	OriginY   int        // 可绘制区域在帧内的左上角Y
	FrameSize int        // 单帧字节数（原始分辨率）
	Size      int        // 映射的双缓冲总字节数
	Addr      [2]uintptr // 两个缓冲区的起始地址
}

// FrameSize 返回一整帧原始分辨率画面的字节数
func FrameSize(info fbdev.ScreenInfo) int {
	return int(info.Xres) * int(info.Yres) * fbdev.BytesPerPixel
}

// DoubleBufferSize 返回需要映射的双缓冲字节数
func DoubleBufferSize(info fbdev.ScreenInfo) int {
	return 2 * FrameSize(info)
}

// DoubleBuffered 可用帧数少于2时返回-1，否则返回0
func DoubleBuffered(info fbdev.ScreenInfo) int32 {
	return (int32(info.NumFrames) - 2) >> 31
}

// Drawable 消隐偏移吃掉了整个宽度或高度时返回-1，否则返回0
func Drawable(info fbdev.ScreenInfo) int32 {
	w := int32(info.Xres) - 2*int32(info.Xoff)
	h := int32(info.Yres) - 2*int32(info.Yoff)
	return ((w - 1) | (h - 1)) >> 31
}

// Compute 计算映射基址为base时的缓冲区布局
// 第二个缓冲区距第一个一整帧原始画面，而不是一帧可绘制画面：
// 两个缓冲区在内存中都按原始分辨率排布
func Compute(info fbdev.ScreenInfo, base uintptr) Layout {
	frame := FrameSize(info)
	return Layout{
		Stride:    int(info.Xres),
		Width:     int(info.Xres) - 2*int(info.Xoff),
		Height:    int(info.Yres) - 2*int(info.Yoff),
		OriginX:   int(info.Xoff),
		OriginY:   int(info.Yoff),
		FrameSize: frame,
		Size:      2 * frame,
		Addr:      [2]uintptr{base, base + uintptr(frame)},
	}
}
