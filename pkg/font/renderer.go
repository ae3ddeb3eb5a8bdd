// font包提供了TrueType字体的文字渲染功能
// 用于在帧缓冲区的可绘制区域上叠加状态文字
package font

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// Renderer 字体渲染器结构体
// 测量和绘制使用同一字体、字号和分辨率
type Renderer struct {
	face    font.Face         // 用于测量文字的字体外观
	context *freetype.Context // FreeType渲染上下文
}

// NewRenderer 从字体文件创建渲染器
// 参数fontPath: 字体文件路径（.ttf/.ttc）
// 参数size: 字体大小（点）  参数dpi: 分辨率
func NewRenderer(fontPath string, size float64, dpi float64) (*Renderer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("无法读取字体文件 %s: %v", fontPath, err)
	}
	return NewRendererFromBytes(fontBytes, size, dpi)
}

// NewRendererFromBytes 从内存中的字体数据创建渲染器
func NewRendererFromBytes(fontBytes []byte, size float64, dpi float64) (*Renderer, error) {
	if size <= 0 || size > 200 {
		return nil, fmt.Errorf("字体大小无效: %f", size)
	}
	if dpi <= 0 || dpi > 600 {
		return nil, fmt.Errorf("DPI值无效: %f", dpi)
	}
	if err := validateFontFormat(fontBytes); err != nil {
		return nil, err
	}

	f, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("无法解析字体: %v", err)
	}

	c := freetype.NewContext()
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetDPI(dpi)

	return &Renderer{
		face: truetype.NewFace(f, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingFull, // 完整微调，尺寸最精确
		}),
		context: c,
	}, nil
}

// LineHeight 返回字体的标准行高（像素）
func (r *Renderer) LineHeight() int {
	return r.face.Metrics().Height.Ceil()
}

// Measure 测量单行文字的宽高（像素）
func (r *Renderer) Measure(text string) (int, int) {
	bounds, advance := font.BoundString(r.face, text)
	// 26.6定点数转换为像素，额外留出1像素避免截断
	return advance.Ceil() + 1, (bounds.Max.Y - bounds.Min.Y).Ceil() + 1
}

// DrawText 以(x, y)为左上角，用textColor把文字画到dst上
// 文字先渲染成透明度遮罩，再与目标图像混合
func (r *Renderer) DrawText(dst draw.Image, x, y int, text string, textColor color.Color) error {
	if text == "" {
		return nil
	}
	width, _ := r.Measure(text)
	metrics := r.face.Metrics()
	mask := image.NewAlpha(image.Rect(0, 0, width, r.LineHeight()))

	r.context.SetClip(mask.Bounds())
	r.context.SetDst(mask)
	r.context.SetSrc(image.Opaque)

	// 基线位于上升高度处
	if _, err := r.context.DrawString(text, freetype.Pt(0, metrics.Ascent.Ceil())); err != nil {
		return fmt.Errorf("无法绘制文字: %v", err)
	}

	rect := mask.Bounds().Add(image.Pt(x, y))
	draw.DrawMask(dst, rect, image.NewUniform(textColor), image.Point{}, mask, image.Point{}, draw.Over)
	return nil
}

// DrawLines 从(x, y)开始逐行绘制多行文字，返回最后一行之后的Y坐标
func (r *Renderer) DrawLines(dst draw.Image, x, y int, lines []string, textColor color.Color, lineSpacing int) (int, error) {
	for _, line := range lines {
		if err := r.DrawText(dst, x, y, line, textColor); err != nil {
			return y, err
		}
		y += r.LineHeight() + lineSpacing
	}
	return y, nil
}

// validateFontFormat 检查字体文件格式是否被freetype支持
func validateFontFormat(fontData []byte) error {
	switch {
	case len(fontData) < 4:
		return fmt.Errorf("字体文件太小，无法确定格式")
	case bytes.HasPrefix(fontData, []byte{0x00, 0x01, 0x00, 0x00}), bytes.HasPrefix(fontData, []byte("ttcf")):
		return nil
	case bytes.HasPrefix(fontData, []byte("OTTO")):
		return fmt.Errorf("OTF字体格式支持有限，请使用TTF格式的字体文件")
	case bytes.HasPrefix(fontData, []byte("wOFF")), bytes.HasPrefix(fontData, []byte("wOF2")):
		return fmt.Errorf("不支持WOFF格式，请使用TTF格式")
	}
	return fmt.Errorf("未知的字体格式，仅支持TTF格式")
}
