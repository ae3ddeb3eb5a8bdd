//go:build linux

// input包提供了终端键盘输入处理功能
// 将终端设置为原始模式，实现无回显、无缓冲的按键读取
package input

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// 常用按键
const (
	KeyCtrlC  = 3
	KeyEscape = 27
	KeySpace  = ' '
)

// pollInterval 等待按键时每次poll的超时（毫秒），决定响应取消的延迟
const pollInterval = 100

// Keyboard 键盘输入处理器
// 封装了终端设备和原始终端属性
type Keyboard struct {
	device     *os.File      // 终端设备文件句柄
	oldTermios *unix.Termios // 原始终端属性，用于恢复设置
	mu         sync.Mutex    // 保护并发访问
	closed     bool          // 关闭状态标志
}

// NewKeyboard 打开终端并切换到原始模式
// 参数path: 终端设备路径，通常为"/dev/tty"
func NewKeyboard(path string) (*Keyboard, error) {
	device, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("无法打开终端设备: %v", err)
	}

	kb := &Keyboard{device: device}
	if err := kb.setRawMode(); err != nil {
		device.Close()
		return nil, err
	}
	return kb, nil
}

// setRawMode 禁用行编辑、回显和流控制，并隐藏光标
// 光标不隐藏的话，控制台会在帧缓冲区上闪烁
func (kb *Keyboard) setRawMode() error {
	fd := int(kb.device.Fd())

	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("无法获取终端属性: %v", err)
	}
	kb.oldTermios = old

	raw := *old
	raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL
	raw.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY | unix.ICRNL
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return fmt.Errorf("无法设置终端属性: %v", err)
	}

	if _, err := kb.device.WriteString("\033[?25l"); err != nil {
		return fmt.Errorf("隐藏光标失败: %v", err)
	}
	return nil
}

// ReadKey 阻塞读取一个按键，ctx取消时返回ctx.Err()
func (kb *Keyboard) ReadKey(ctx context.Context) (byte, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.closed {
		return 0, fmt.Errorf("键盘设备已关闭")
	}

	fds := []unix.PollFd{{Fd: int32(kb.device.Fd()), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := unix.Poll(fds, pollInterval)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("poll调用失败: %v", err)
		}
		if n == 0 {
			continue
		}

		buf := make([]byte, 1)
		if _, err := kb.device.Read(buf); err != nil {
			return 0, fmt.Errorf("读取键盘输入失败: %v", err)
		}
		return buf[0], nil
	}
}

// Close 恢复终端属性、显示光标并关闭设备
func (kb *Keyboard) Close() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.closed {
		return nil
	}
	kb.closed = true

	var err error
	if kb.oldTermios != nil {
		if setErr := unix.IoctlSetTermios(int(kb.device.Fd()), unix.TCSETS, kb.oldTermios); setErr != nil {
			err = fmt.Errorf("恢复终端属性失败: %v", setErr)
		}
	}
	kb.device.WriteString("\033[?25h")

	if closeErr := kb.device.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("关闭终端设备失败: %v", closeErr)
	}
	return err
}
