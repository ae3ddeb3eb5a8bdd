// remote包实现了远程调用代理
// 调用方自身无法发起系统调用，由特权宿主代为执行open/ioctl/mmap/munmap/close，
// 结果写入宿主可寻址的暂存内存，再由调用方通过块传输读回本地
package remote

// MapFailed mmap失败时宿主返回的地址（最高位置位）
const MapFailed = ^uintptr(0)

// Host 特权宿主提供的远程调用服务
// 按照宿主的调用约定，句柄和状态为负数、地址最高位置位表示失败，
// 实现方不应把失败转换为其他形式
type Host interface {
	// Open 打开设备文件，返回句柄或负的errno
	Open(path string, flags int) int
	// Ioctl 对句柄执行控制操作，arg必须是宿主可寻址的内存，nil表示参数为0
	Ioctl(fd int, req uint, arg []byte) int
	// Mmap 建立设备内存的共享映射，返回映射基址或MapFailed
	Mmap(hint uintptr, length int, prot, flags, fd int, off int64) uintptr
	// Munmap 解除映射
	Munmap(addr uintptr, length int) int
	// Close 关闭句柄
	Close(fd int) int
}

// Memory 可选接口：宿主映射的内存对调用方也可直接访问时实现
type Memory interface {
	Bytes(addr uintptr, length int) []byte
}

// Mover 本地内存与宿主可寻址内存之间的块传输
type Mover interface {
	Get(local, remote []byte) // 从宿主内存读回本地
	Put(remote, local []byte) // 将本地数据写入宿主内存
}

// CopyMover 单一地址空间上的块传输，直接复制
type CopyMover struct{}

func (CopyMover) Get(local, remote []byte) { copy(local, remote) }
func (CopyMover) Put(remote, local []byte) { copy(remote, local) }

// Proxy 远程调用代理
// 不做重试，也不解释返回值，失败由调用方检测并向上传递
type Proxy struct {
	host  Host
	mover Mover
}

// NewProxy 创建远程调用代理，mover为nil时使用CopyMover
func NewProxy(host Host, mover Mover) *Proxy {
	if mover == nil {
		mover = CopyMover{}
	}
	return &Proxy{host: host, mover: mover}
}

// Open 请求宿主打开设备文件，原样返回句柄
func (p *Proxy) Open(path string, flags int) int {
	return p.host.Open(path, flags)
}

// Ioctl 请求宿主执行控制操作并把结果写入remote，随后读回到local
// remote的内容在每次调用后都会被覆盖，调用方不应假设它跨调用保持不变
func (p *Proxy) Ioctl(fd int, req uint, local, remote []byte) int {
	status := p.host.Ioctl(fd, req, remote)
	p.mover.Get(local, remote)
	return status
}

// Control 执行不需要读回结果的控制操作
func (p *Proxy) Control(fd int, req uint, arg []byte) int {
	return p.host.Ioctl(fd, req, arg)
}

// Mmap 请求宿主建立共享映射
func (p *Proxy) Mmap(hint uintptr, length int, prot, flags, fd int, off int64) uintptr {
	return p.host.Mmap(hint, length, prot, flags, fd, off)
}

// Munmap 请求宿主解除映射
func (p *Proxy) Munmap(addr uintptr, length int) int {
	return p.host.Munmap(addr, length)
}

// Close 请求宿主关闭句柄
func (p *Proxy) Close(fd int) int {
	return p.host.Close(fd)
}

// Put 将本地数据写入宿主可寻址的内存
func (p *Proxy) Put(remote, local []byte) {
	p.mover.Put(remote, local)
}

// Bytes 在宿主支持时返回映射内存的直接访问切片
func (p *Proxy) Bytes(addr uintptr, length int) ([]byte, bool) {
	m, ok := p.host.(Memory)
	if !ok {
		return nil, false
	}
	b := m.Bytes(addr, length)
	return b, b != nil
}
