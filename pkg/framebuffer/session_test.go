package framebuffer_test

import (
	"errors"
	"image"
	"image/color"
	"testing"

	jujuerrors "github.com/juju/errors"

	"go-framebuffer-flip/pkg/fbdev"
	"go-framebuffer-flip/pkg/framebuffer"
	"go-framebuffer-flip/pkg/remote"
	"go-framebuffer-flip/pkg/remote/remotetest"
	"go-framebuffer-flip/pkg/scratch"
)

var fullHD = fbdev.ScreenInfo{Xres: 1920, Yres: 1080, Xoff: 0, Yoff: 0, NumFrames: 2}

func openSession(t *testing.T, host *remotetest.Host) (*framebuffer.Session, *scratch.Block) {
	t.Helper()
	block := new(scratch.Block)
	s, err := framebuffer.Open(remote.NewProxy(host, nil), block, "/dev/fb0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, block
}

func wantKind(t *testing.T, err error, sentinel *framebuffer.Error) *framebuffer.Error {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want kind %s", err, sentinel.Kind)
	}
	var fe *framebuffer.Error
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, want *framebuffer.Error", err)
	}
	return fe
}

func TestOpenFullHD(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	defer s.Close()

	if s.Width() != 1920 || s.Height() != 1080 || s.Stride() != 1920 {
		t.Fatalf("geometry = %dx%d stride %d", s.Width(), s.Height(), s.Stride())
	}
	if got := s.BufferAddr(1) - s.BufferAddr(0); got != 1920*1080*4 {
		t.Fatalf("buffer distance = %d", got)
	}
	if s.Size() != 2*1920*1080*4 {
		t.Fatalf("size = %d", s.Size())
	}
	if !host.Owned {
		t.Fatalf("device not taken over from the kernel")
	}
	mmaps := host.CallsOf(remotetest.OpMmap)
	if len(mmaps) != 1 || mmaps[0].Addr != s.BufferAddr(0) || mmaps[0].Length != s.Size() {
		t.Fatalf("mmap calls = %+v", mmaps)
	}
}

func TestOpenCallOrder(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	defer s.Close()

	want := []struct {
		op  remotetest.Op
		req uint
	}{
		{remotetest.OpOpen, 0},
		{remotetest.OpIoctl, fbdev.FBIOGET_VBLANK},
		{remotetest.OpIoctl, fbdev.PS3FB_IOCTL_SCREENINFO},
		{remotetest.OpMmap, 0},
		{remotetest.OpIoctl, fbdev.PS3FB_IOCTL_ON},
	}
	if len(host.Calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(host.Calls), len(want), host.Calls)
	}
	for i, w := range want {
		c := host.Calls[i]
		if c.Op != w.op || c.Req != w.req {
			t.Fatalf("call %d = %s %#x, want %s %#x", i, c.Op, c.Req, w.op, w.req)
		}
	}
}

func TestOpenQueriesLandInScratch(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, block := openSession(t, host)
	defer s.Close()

	r := block.Region()
	if got := host.Ioctls(fbdev.FBIOGET_VBLANK)[0].Arg; got != r.Addr(scratch.VBlank) {
		t.Fatalf("vblank query arg = %#x, want scratch slot %#x", got, r.Addr(scratch.VBlank))
	}
	if got := host.Ioctls(fbdev.PS3FB_IOCTL_SCREENINFO)[0].Arg; got != r.Addr(scratch.ScreenInfo) {
		t.Fatalf("screeninfo query arg = %#x, want scratch slot %#x", got, r.Addr(scratch.ScreenInfo))
	}
}

func TestOpenMargins(t *testing.T) {
	host := remotetest.NewHost(fbdev.ScreenInfo{Xres: 1280, Yres: 720, Xoff: 8, Yoff: 4, NumFrames: 2})
	s, _ := openSession(t, host)
	defer s.Close()

	if s.Width() != 1280-16 || s.Height() != 720-8 {
		t.Fatalf("drawable = %dx%d, want %dx%d", s.Width(), s.Height(), 1280-16, 720-8)
	}
	if s.Origin() != image.Pt(8, 4) {
		t.Fatalf("origin = %v, want (8,4)", s.Origin())
	}
	if got := s.BufferAddr(1) - s.BufferAddr(0); got != 1280*720*4 {
		t.Fatalf("buffer distance = %d, want raw frame size", got)
	}
}

func TestOpenSingleFrame(t *testing.T) {
	for _, frames := range []uint32{0, 1} {
		host := remotetest.NewHost(fbdev.ScreenInfo{Xres: 1920, Yres: 1080, NumFrames: frames})
		s, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
		if s != nil {
			t.Fatalf("frames=%d: got a session", frames)
		}
		wantKind(t, err, framebuffer.ErrCapabilityMissing)

		if n := len(host.CallsOf(remotetest.OpMmap)); n != 0 {
			t.Fatalf("frames=%d: %d mapping attempts, want 0", frames, n)
		}
		if host.OpenFds() != 0 {
			t.Fatalf("frames=%d: device handle leaked", frames)
		}
		if host.Owned {
			t.Fatalf("frames=%d: device taken over after failure", frames)
		}
	}
}

func TestOpenNoVsync(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	host.VBlankFlags = 0
	_, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
	fe := wantKind(t, err, framebuffer.ErrCapabilityMissing)
	if fe.Msg != "设备不支持垂直同步 (FB_VBLANK_HAVE_VSYNC)" {
		t.Fatalf("msg = %q", fe.Msg)
	}
}

func TestOpenDeviceMissingReportsFirstFailure(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	host.FailOpen = true
	_, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")

	// 后续的查询都会因为句柄无效而失败，但只上报第一个
	fe := wantKind(t, err, framebuffer.ErrDeviceUnavailable)
	if len(host.Ioctls(fbdev.FBIOGET_VBLANK)) != 1 {
		t.Fatalf("vblank query not attempted after open failure")
	}
	if fe.Msg != "无法打开/dev/fb0，请检查权限" {
		t.Fatalf("msg = %q", fe.Msg)
	}
	if n := len(host.CallsOf(remotetest.OpClose)); n != 0 {
		t.Fatalf("closed an invalid handle %d times", n)
	}
}

func TestOpenQueryFailures(t *testing.T) {
	for _, req := range []uint{fbdev.FBIOGET_VBLANK, fbdev.PS3FB_IOCTL_SCREENINFO} {
		host := remotetest.NewHost(fullHD)
		host.FailIoctl[req] = true
		_, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
		wantKind(t, err, framebuffer.ErrQueryFailed)
		if host.OpenFds() != 0 {
			t.Fatalf("req %#x: device handle leaked", req)
		}
	}
}

func TestOpenMappingFailure(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	host.FailMmap = true
	_, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
	wantKind(t, err, framebuffer.ErrMappingFailed)

	if host.OpenFds() != 0 {
		t.Fatalf("device handle leaked")
	}
	if len(host.Ioctls(fbdev.PS3FB_IOCTL_ON)) != 0 {
		t.Fatalf("device taken over without a mapping")
	}
}

func TestOpenTakeOverFailureUnmaps(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	host.FailIoctl[fbdev.PS3FB_IOCTL_ON] = true
	_, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
	wantKind(t, err, framebuffer.ErrDeviceUnavailable)

	if host.Mappings() != 0 || host.OpenFds() != 0 {
		t.Fatalf("leaked %d mappings and %d handles", host.Mappings(), host.OpenFds())
	}
}

func TestFlipUsesStagedConstants(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, block := openSession(t, host)
	defer s.Close()

	if err := s.Flip(0); err != nil {
		t.Fatalf("Flip(0): %v", err)
	}
	if host.Displayed != 0 {
		t.Fatalf("displayed = %d after Flip(0)", host.Displayed)
	}
	if err := s.Flip(1); err != nil {
		t.Fatalf("Flip(1): %v", err)
	}
	if host.Displayed != 1 {
		t.Fatalf("displayed = %d after Flip(1)", host.Displayed)
	}

	r := block.Region()
	flips := host.Ioctls(fbdev.PS3FB_IOCTL_FSEL)
	if len(flips) != 2 {
		t.Fatalf("got %d flip requests, want 2", len(flips))
	}
	if flips[0].Arg != r.Addr(scratch.Const0) || flips[0].Value != 0 {
		t.Fatalf("Flip(0) arg = %#x (value %d), want const0 at %#x", flips[0].Arg, flips[0].Value, r.Addr(scratch.Const0))
	}
	if flips[1].Arg != r.Addr(scratch.Const1) || flips[1].Value != 1 {
		t.Fatalf("Flip(1) arg = %#x (value %d), want const1 at %#x", flips[1].Arg, flips[1].Value, r.Addr(scratch.Const1))
	}
}

func TestFlipRejectsBadSelector(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	defer s.Close()

	for _, sel := range []int{-1, 2, 7} {
		if err := s.Flip(sel); !jujuerrors.IsNotValid(err) {
			t.Fatalf("Flip(%d) = %v, want not valid", sel, err)
		}
	}
	if n := len(host.Ioctls(fbdev.PS3FB_IOCTL_FSEL)); n != 0 {
		t.Fatalf("%d flip requests issued for bad selectors", n)
	}
}

func TestSessionsOwnTheirConstants(t *testing.T) {
	hostA := remotetest.NewHost(fullHD)
	hostB := remotetest.NewHost(fullHD)
	a, blockA := openSession(t, hostA)
	defer a.Close()
	b, blockB := openSession(t, hostB)
	defer b.Close()

	a.Flip(1)
	b.Flip(1)
	if hostA.Ioctls(fbdev.PS3FB_IOCTL_FSEL)[0].Arg != blockA.Region().Addr(scratch.Const1) {
		t.Fatalf("session A flipped with a constant outside its scratch block")
	}
	if hostB.Ioctls(fbdev.PS3FB_IOCTL_FSEL)[0].Arg != blockB.Region().Addr(scratch.Const1) {
		t.Fatalf("session B flipped with a constant outside its scratch block")
	}
}

func TestWaitVsync(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, block := openSession(t, host)
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.WaitVsync(); err != nil {
			t.Fatalf("WaitVsync: %v", err)
		}
	}
	if host.Vsyncs != 3 {
		t.Fatalf("vsyncs = %d, want 3", host.Vsyncs)
	}
	waits := host.Ioctls(fbdev.FBIO_WAITFORVSYNC)
	if waits[0].Arg != block.Region().Addr(scratch.Const0) || waits[0].Value != 0 {
		t.Fatalf("wait arg = %#x, want const0", waits[0].Arg)
	}
}

func TestTransientErrors(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	defer s.Close()

	host.FailIoctl[fbdev.FBIO_WAITFORVSYNC] = true
	host.FailIoctl[fbdev.PS3FB_IOCTL_FSEL] = true

	fe := wantKind(t, s.WaitVsync(), framebuffer.ErrTransient)
	if fe.Status != -remotetest.EIO {
		t.Fatalf("status = %d, want %d", fe.Status, -remotetest.EIO)
	}
	wantKind(t, s.Flip(1), framebuffer.ErrTransient)
}

func TestOpenCloseRoundTrip(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	addr, size := s.BufferAddr(0), s.Size()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mmaps := host.CallsOf(remotetest.OpMmap)
	munmaps := host.CallsOf(remotetest.OpMunmap)
	if len(mmaps) != 1 || len(munmaps) != 1 {
		t.Fatalf("mmap=%d munmap=%d, want 1 and 1", len(mmaps), len(munmaps))
	}
	if munmaps[0].Addr != addr || munmaps[0].Length != size || mmaps[0].Length != size {
		t.Fatalf("munmap(%#x, %d) does not match mmap(%#x, %d)", munmaps[0].Addr, munmaps[0].Length, addr, size)
	}
	if host.Owned {
		t.Fatalf("device not returned to the kernel")
	}
	if host.OpenFds() != 0 || host.Mappings() != 0 {
		t.Fatalf("leaked %d handles and %d mappings", host.OpenFds(), host.Mappings())
	}

	// 重复关闭不做任何事
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := len(host.CallsOf(remotetest.OpMunmap)); n != 1 {
		t.Fatalf("second Close unmapped again (%d munmaps)", n)
	}
}

func TestClosedSession(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)
	s.Close()

	if err := s.WaitVsync(); !errors.Is(err, framebuffer.ErrClosed) {
		t.Fatalf("WaitVsync after Close = %v", err)
	}
	if err := s.Flip(0); !errors.Is(err, framebuffer.ErrClosed) {
		t.Fatalf("Flip after Close = %v", err)
	}
	if _, err := s.Frame(0); !errors.Is(err, framebuffer.ErrClosed) {
		t.Fatalf("Frame after Close = %v", err)
	}
}

func TestCloseReportsTeardownFailure(t *testing.T) {
	host := remotetest.NewHost(fullHD)
	s, _ := openSession(t, host)

	host.FailIoctl[fbdev.PS3FB_IOCTL_OFF] = true
	host.FailClose = true
	fe := wantKind(t, s.Close(), framebuffer.ErrTeardown)
	if fe.Msg != "无法将帧缓冲区控制权交还内核 (PS3FB_IOCTL_OFF)" {
		t.Fatalf("msg = %q, want the release failure", fe.Msg)
	}
	// 后续步骤仍然执行
	if n := len(host.CallsOf(remotetest.OpMunmap)); n != 1 {
		t.Fatalf("munmap attempted %d times, want 1", n)
	}
	if n := len(host.CallsOf(remotetest.OpClose)); n != 1 {
		t.Fatalf("close attempted %d times, want 1", n)
	}
}

func TestFrameDrawsIntoMapping(t *testing.T) {
	host := remotetest.NewHost(fbdev.ScreenInfo{Xres: 64, Yres: 32, Xoff: 2, Yoff: 1, NumFrames: 2})
	s, _ := openSession(t, host)
	defer s.Close()

	back, err := s.Frame(1)
	if err != nil {
		t.Fatalf("Frame(1): %v", err)
	}
	if back.Bounds() != image.Rect(2, 1, 62, 31) {
		t.Fatalf("bounds = %v", back.Bounds())
	}
	back.Set(2, 1, color.RGBA{R: 0xff, A: 0xff})

	mem := host.Bytes(s.BufferAddr(1), 64*32*4)
	if off := (1*64 + 2) * 4; mem[off+2] != 0xff {
		t.Fatalf("red byte not written at the drawable origin of buffer 1")
	}
	front := host.Bytes(s.BufferAddr(0), 64*32*4)
	for i, b := range front {
		if b != 0 {
			t.Fatalf("buffer 0 modified at byte %d", i)
		}
	}

	if _, err := s.Frame(2); !jujuerrors.IsNotValid(err) {
		t.Fatalf("Frame(2) = %v, want not valid", err)
	}
}

type opaqueHost struct{ *remotetest.Host }

// Bytes 遮蔽remotetest.Host的实现，使宿主不满足remote.Memory
func (opaqueHost) Bytes() {}

func TestFrameWithoutSharedMemory(t *testing.T) {
	host := opaqueHost{remotetest.NewHost(fullHD)}
	s, err := framebuffer.Open(remote.NewProxy(host, nil), new(scratch.Block), "/dev/fb0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Frame(0); !jujuerrors.IsNotSupported(err) {
		t.Fatalf("Frame = %v, want not supported", err)
	}
}
