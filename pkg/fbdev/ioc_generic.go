//go:build !ppc64 && !ppc64le

package fbdev

// asm-generic的_IOC方向位编码
const (
	iocNone     = 0
	iocWrite    = 1
	iocRead     = 2
	iocDirShift = 30
)
