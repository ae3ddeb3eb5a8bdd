//go:build ppc64 || ppc64le

package fbdev

// powerpc的_IOC方向位编码，与asm-generic不同
const (
	iocNone     = 1
	iocWrite    = 4
	iocRead     = 2
	iocDirShift = 29
)
