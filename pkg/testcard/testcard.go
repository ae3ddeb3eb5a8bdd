// testcard包在帧缓冲区的可绘制区域上绘制测试卡
// 测试卡包含标出可绘制矩形的边框、用于观察撕裂的移动竖条、
// 帧计数文字以及编码了屏幕几何信息的二维码
package testcard

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"rsc.io/qr"

	"go-framebuffer-flip/pkg/font"
	"go-framebuffer-flip/pkg/geometry"
)

var (
	background = color.RGBA{0x10, 0x10, 0x18, 0xff}
	border     = color.RGBA{0xff, 0xff, 0xff, 0xff}
	bar        = color.RGBA{0xff, 0x40, 0x40, 0xff}
	textColor  = color.RGBA{0xe0, 0xe0, 0xe0, 0xff}
)

const (
	barWidth    = 8
	barSpeed    = 4 // 每帧移动的像素数
	qrPixelSize = 4 // 每个二维码模块放大的倍数
	margin      = 16
)

// Card 测试卡
type Card struct {
	layout   geometry.Layout
	renderer *font.Renderer // 为nil时不绘制文字
	code     *image.RGBA    // 预先渲染好的二维码，为nil时不绘制
}

// New 为给定布局创建测试卡
// 参数renderer: 字体渲染器，可以为nil  参数showQR: 是否绘制二维码
func New(layout geometry.Layout, renderer *font.Renderer, showQR bool) (*Card, error) {
	c := &Card{layout: layout, renderer: renderer}
	if showQR {
		img, err := renderQRCode(Describe(layout))
		if err != nil {
			return nil, err
		}
		c.code = img
	}
	return c, nil
}

// Describe 返回布局的简短描述，也是二维码的内容
func Describe(l geometry.Layout) string {
	return fmt.Sprintf("fb %dx%d drawable %dx%d@%d,%d", l.Stride, l.FrameSize/(l.Stride*4), l.Width, l.Height, l.OriginX, l.OriginY)
}

// Render 把第n帧的测试卡画到dst上，dst的边界应为可绘制矩形
func (c *Card) Render(dst draw.Image, n int, buffer int) error {
	b := dst.Bounds()
	draw.Draw(dst, b, image.NewUniform(background), image.Point{}, draw.Src)
	drawRect(dst, b, border)

	// 移动竖条：翻转时机不对时竖条会出现断裂
	if span := b.Dx() - barWidth; span > 0 {
		x := b.Min.X + (n*barSpeed)%span
		draw.Draw(dst, image.Rect(x, b.Min.Y+1, x+barWidth, b.Max.Y-1), image.NewUniform(bar), image.Point{}, draw.Src)
	}

	y := b.Min.Y + margin
	if c.code != nil {
		qb := c.code.Bounds()
		draw.Draw(dst, qb.Add(image.Pt(b.Min.X+margin, y)), c.code, qb.Min, draw.Src)
		y += qb.Dy() + margin
	}

	if c.renderer != nil {
		lines := []string{
			Describe(c.layout),
			fmt.Sprintf("frame %d  buffer %d", n, buffer),
		}
		if _, err := c.renderer.DrawLines(dst, b.Min.X+margin, y, lines, textColor, 4); err != nil {
			return err
		}
	}
	return nil
}

// drawRect 绘制一像素宽的矩形边框
func drawRect(dst draw.Image, r image.Rectangle, col color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.Set(x, r.Min.Y, col)   // 上边
		dst.Set(x, r.Max.Y-1, col) // 下边
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.Set(r.Min.X, y, col)   // 左边
		dst.Set(r.Max.X-1, y, col) // 右边
	}
}

// renderQRCode 生成白底黑块的二维码图像，四周留出两个模块的静区
func renderQRCode(content string) (*image.RGBA, error) {
	code, err := qr.Encode(content, qr.M)
	if err != nil {
		return nil, fmt.Errorf("二维码生成失败: %v", err)
	}

	quiet := 2 * qrPixelSize
	total := code.Size*qrPixelSize + quiet*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	black := image.NewUniform(color.Black)
	for qy := 0; qy < code.Size; qy++ {
		for qx := 0; qx < code.Size; qx++ {
			if !code.Black(qx, qy) {
				continue
			}
			px := quiet + qx*qrPixelSize
			py := quiet + qy*qrPixelSize
			draw.Draw(img, image.Rect(px, py, px+qrPixelSize, py+qrPixelSize), black, image.Point{}, draw.Src)
		}
	}
	return img, nil
}
