//go:build linux

// main包是双缓冲帧缓冲区翻转演示程序的入口
// 打开帧缓冲区会话后，每帧在后台缓冲区绘制测试卡，等待垂直同步再翻转
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/sync/errgroup"

	"go-framebuffer-flip/internal/config"
	"go-framebuffer-flip/pkg/font"
	"go-framebuffer-flip/pkg/framebuffer"
	"go-framebuffer-flip/pkg/input"
	"go-framebuffer-flip/pkg/remote"
	"go-framebuffer-flip/pkg/scratch"
	"go-framebuffer-flip/pkg/testcard"
)

// errStop 正常结束运行循环
var errStop = errors.New("stop")

func initLog(path string) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("无法打开日志文件: %v", err)
	}
	log.SetOutput(logFile)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("日志系统初始化完成")
}

// Application 主应用程序结构体
type Application struct {
	config   *config.Config
	session  *framebuffer.Session
	block    *scratch.Block // 会话的暂存区，必须比会话活得更久
	card     *testcard.Card
	keyboard *input.Keyboard
	paused   atomic.Bool
}

func main() {
	cfg := config.NewConfig()
	config.BindFlags(pflag.CommandLine, cfg)
	pflag.Parse()

	initLog(cfg.LogPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	app, err := NewApplication(cfg)
	if err != nil {
		log.Printf("应用程序初始化失败: %v", err)
		fmt.Fprintf(os.Stderr, "应用程序初始化失败: %v\n", err)
		os.Exit(1)
	}

	err = app.Run(ctx)
	app.Cleanup()
	if err != nil {
		log.Printf("应用程序运行错误: %v", err)
		fmt.Fprintf(os.Stderr, "应用程序运行错误: %v\n", err)
		os.Exit(1)
	}
}

// NewApplication 打开帧缓冲区会话并准备测试卡和键盘
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg, block: new(scratch.Block)}

	proxy := remote.NewProxy(remote.NewLocal(), nil)
	session, err := framebuffer.Open(proxy, app.block, cfg.Device)
	if err != nil {
		return nil, errors.Annotatef(err, "打开帧缓冲区%s", cfg.Device)
	}
	app.session = session
	log.Printf("可绘制区域: %dx%d, 起点%v, 缓冲区地址 %#x %#x",
		session.Width(), session.Height(), session.Origin(), session.BufferAddr(0), session.BufferAddr(1))

	renderer, err := app.initFontRenderer()
	if err != nil {
		log.Printf("字体初始化失败，测试卡将不显示文字: %v", err)
	}

	app.card, err = testcard.New(session.Layout(), renderer, cfg.ShowQR)
	if err != nil {
		app.Cleanup()
		return nil, errors.Trace(err)
	}

	if cfg.TTY != "" {
		kb, err := input.NewKeyboard(cfg.TTY)
		if err != nil {
			log.Printf("无法读取按键，只能通过信号退出: %v", err)
		} else {
			app.keyboard = kb
		}
	}
	return app, nil
}

// initFontRenderer 字体文件不存在时退回到内置的Go字体
func (app *Application) initFontRenderer() (*font.Renderer, error) {
	if app.config.FontAvailable() {
		return font.NewRenderer(app.config.FontPath, app.config.FontSize, app.config.DPI)
	}
	log.Printf("字体文件%s不存在，使用内置字体", app.config.FontPath)
	return font.NewRendererFromBytes(goregular.TTF, app.config.FontSize, app.config.DPI)
}

// Run 运行翻转循环和按键循环，直到按下q、收到信号或绘制完指定帧数
func (app *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.flipLoop(ctx) })
	if app.keyboard != nil {
		g.Go(func() error { return app.keyLoop(ctx) })
	}

	err := g.Wait()
	if err == errStop || err == context.Canceled {
		return nil
	}
	return err
}

// flipLoop 在后台缓冲区绘制，等待垂直同步后翻转
// 只有这个goroutine访问会话。ON之后显示的是缓冲区0，所以从缓冲区1开始绘制
// 等待或翻转失败时立即返回，由Cleanup交还设备
func (app *Application) flipLoop(ctx context.Context) error {
	back := 1
	for n := 0; app.config.Frames == 0 || n < app.config.Frames; {
		if err := ctx.Err(); err != nil {
			return err
		}

		paused := app.paused.Load()
		if !paused {
			frame, err := app.session.Frame(back)
			if err != nil {
				return errors.Trace(err)
			}
			if err := app.card.Render(frame, n, back); err != nil {
				return errors.Annotate(err, "绘制测试卡")
			}
		}

		if err := app.session.WaitVsync(); err != nil {
			return errors.Annotatef(err, "第%d帧", n)
		}
		if paused {
			continue
		}
		if err := app.session.Flip(back); err != nil {
			return errors.Annotatef(err, "第%d帧", n)
		}
		back ^= 1
		n++
	}
	log.Printf("已绘制%d帧", app.config.Frames)
	return errStop
}

// keyLoop 处理按键：q、ESC或Ctrl+C退出，空格暂停/继续
func (app *Application) keyLoop(ctx context.Context) error {
	for {
		key, err := app.keyboard.ReadKey(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotate(err, "读取按键")
		}

		switch key {
		case 'q', 'Q', input.KeyEscape, input.KeyCtrlC:
			log.Printf("检测到退出按键，程序即将退出")
			return errStop
		case input.KeySpace:
			paused := !app.paused.Load()
			app.paused.Store(paused)
			log.Printf("暂停: %v", paused)
		}
	}
}

// Cleanup 关闭键盘并把帧缓冲区交还内核
func (app *Application) Cleanup() {
	if app.keyboard != nil {
		if err := app.keyboard.Close(); err != nil {
			log.Printf("恢复终端失败: %v", err)
		}
		app.keyboard = nil
	}
	if app.session != nil {
		if err := app.session.Close(); err != nil {
			log.Printf("关闭帧缓冲区失败: %v", err)
		}
		app.session = nil
	}
}
