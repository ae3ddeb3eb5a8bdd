// config包提供了应用程序的配置管理功能
// 定义了设备路径、字体、日志等配置项的默认值，并绑定到命令行参数
package config

import (
	"os"

	"github.com/spf13/pflag"
)

// 默认配置常量
// 这些值在程序初始化时使用，可以根据实际部署环境进行调整
const (
	DefaultDevice   = "/dev/fb0"                            // 默认帧缓冲区设备路径
	DefaultTTY      = "/dev/tty"                            // 读取按键的终端设备
	DefaultFontPath = "./fonts/SourceHanSansSC-Regular.ttf" // 默认字体文件路径（TTF格式）
	DefaultFontSize = 20.0                                  // 默认字体大小（点）
	DefaultDPI      = 72.0                                  // 默认DPI分辨率
	DefaultLogPath  = "fbflip.log"                          // 日志文件路径
	DefaultFrames   = 0                                     // 绘制的帧数，0表示直到退出
)

// Config 应用程序配置结构体
type Config struct {
	Device   string  // 帧缓冲区设备路径
	TTY      string  // 终端设备路径，为空时不读取按键
	FontPath string  // 字体文件路径，不存在时使用内置字体
	FontSize float64 // 字体大小
	DPI      float64 // 屏幕分辨率（每英寸点数）
	LogPath  string  // 日志文件路径
	Frames   int     // 绘制的帧数
	ShowQR   bool    // 是否在测试卡上绘制二维码
}

// NewConfig 创建使用默认值的配置对象
func NewConfig() *Config {
	return &Config{
		Device:   BestDevice(),
		TTY:      DefaultTTY,
		FontPath: DefaultFontPath,
		FontSize: DefaultFontSize,
		DPI:      DefaultDPI,
		LogPath:  DefaultLogPath,
		Frames:   DefaultFrames,
		ShowQR:   true,
	}
}

// BindFlags 把配置项注册为命令行参数，参数的默认值取自cfg的当前值
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.Device, "device", "d", cfg.Device, "帧缓冲区设备路径")
	fs.StringVar(&cfg.TTY, "tty", cfg.TTY, "读取按键的终端设备，为空时不读取按键")
	fs.StringVar(&cfg.FontPath, "font", cfg.FontPath, "TTF字体文件路径，不存在时使用内置字体")
	fs.Float64Var(&cfg.FontSize, "font-size", cfg.FontSize, "字体大小（点）")
	fs.Float64Var(&cfg.DPI, "dpi", cfg.DPI, "字体渲染的DPI")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "日志文件路径")
	fs.IntVarP(&cfg.Frames, "frames", "n", cfg.Frames, "绘制的帧数，0表示直到按q退出")
	fs.BoolVar(&cfg.ShowQR, "qr", cfg.ShowQR, "在测试卡上绘制屏幕几何信息的二维码")
}

// BestDevice 获取最佳的帧缓冲区设备
// 按优先级检查常见的设备，返回第一个存在的设备路径
func BestDevice() string {
	for _, device := range []string{"/dev/fb0", "/dev/fb1", "/dev/fb2"} {
		if _, err := os.Stat(device); err == nil {
			return device
		}
	}
	// 都不存在时返回默认设备（会在打开时给出错误提示）
	return DefaultDevice
}

// FontAvailable 字体文件是否存在
func (c *Config) FontAvailable() bool {
	_, err := os.Stat(c.FontPath)
	return err == nil
}
