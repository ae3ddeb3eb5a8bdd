package framebuffer

import (
	"image"
	"image/color"
)

// Frame 映射内存中一个缓冲区的可绘制视图，实现draw.Image
// Pix覆盖整帧原始画面，Rect为可绘制矩形，Rect之外的消隐区域不会被写入
// 像素按32位XRGB主机字节序存放（内存中依次为B、G、R、X）
type Frame struct {
	Pix    []byte          // 整帧像素数据
	Stride int             // 每行字节数
	Rect   image.Rectangle // 可绘制矩形
}

func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

func (f *Frame) Bounds() image.Rectangle { return f.Rect }

// PixOffset 返回像素(x, y)在Pix中的字节偏移
func (f *Frame) PixOffset(x, y int) int {
	return y*f.Stride + x*4
}

func (f *Frame) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return color.RGBA{}
	}
	i := f.PixOffset(x, y)
	return color.RGBA{R: f.Pix[i+2], G: f.Pix[i+1], B: f.Pix[i], A: 0xff}
}

// Set 设置像素颜色，超出可绘制矩形的坐标直接忽略
func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return
	}
	r, g, b, _ := c.RGBA()
	i := f.PixOffset(x, y)
	f.Pix[i] = byte(b >> 8)   // 蓝色分量
	f.Pix[i+1] = byte(g >> 8) // 绿色分量
	f.Pix[i+2] = byte(r >> 8) // 红色分量
	f.Pix[i+3] = 0
}

// Clear 将整帧（包括消隐区域）清为黑色
func (f *Frame) Clear() {
	clear(f.Pix)
}
