//go:build linux

package v4l2

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request encoding for the generic (x86, arm, riscv) layout
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr<<iocNRShift
}

func ior(nr, size uintptr) uintptr  { return ioc(iocRead, 'V', nr, size) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, 'V', nr, size) }
func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, 'V', nr, size) }

const (
	capVideoCapture = 0x00000001
	capVideoOutput  = 0x00000002
	capReadWrite    = 0x01000000
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000

	bufTypeVideoCapture = 1
	bufTypeVideoOutput  = 2

	memoryMmap = 1

	fieldNone = 1

	colorspaceSRGB = 8
)

type capability struct {
	driver       [16]uint8
	card         [32]uint8
	busInfo      [32]uint8
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// caps returns the capabilities of the opened node rather than the
// whole physical device when the driver reports them
func (c *capability) caps() uint32 {
	if c.capabilities&capDeviceCaps != 0 {
		return c.deviceCaps
	}
	return c.capabilities
}

func (c *capability) cardName() string {
	return cString(c.card[:])
}

func (c *capability) driverName() string {
	return cString(c.driver[:])
}

type pixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// format mirrors struct v4l2_format. The kernel union holds pointers, so it
// is pointer aligned.
type format struct {
	typ uint32
	raw [200 / unsafe.Sizeof(uintptr(0))]uintptr
}

func (f *format) pix() *pixFormat {
	return (*pixFormat)(unsafe.Pointer(&f.raw[0]))
}

type requestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  timecode
	sequence  uint32
	memory    uint32
	m         uintptr // union; offset for mmap buffers
	length    uint32
	reserved2 uint32
	requestFD uint32
}

func (b *buffer) offset() int64 {
	return int64(uint32(b.m))
}

var (
	vidiocQueryCap  = ior(0, unsafe.Sizeof(capability{}))
	vidiocGFmt      = iowr(4, unsafe.Sizeof(format{}))
	vidiocSFmt      = iowr(5, unsafe.Sizeof(format{}))
	vidiocReqBufs   = iowr(8, unsafe.Sizeof(requestBuffers{}))
	vidiocQueryBuf  = iowr(9, unsafe.Sizeof(buffer{}))
	vidiocQBuf      = iowr(15, unsafe.Sizeof(buffer{}))
	vidiocDQBuf     = iowr(17, unsafe.Sizeof(buffer{}))
	vidiocStreamOn  = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow(19, unsafe.Sizeof(int32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func queryCap(fd int) (*capability, error) {
	var c capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
		return nil, err
	}
	return &c, nil
}

func cString(b []uint8) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
