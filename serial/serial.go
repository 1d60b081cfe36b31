package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoData is returned by NextLine when no complete line arrived within the timeout.
	ErrNoData = errors.New("serial: no data")
	// ErrClosed is returned by reads on a SerialReader that has been closed.
	ErrClosed = errors.New("serial: reader closed")
)

// maxPending bounds the bytes buffered while waiting for a delimiter.
// Oversized frames are flushed as a single line.
const maxPending = 64 * 1024

// UnavailableError reports that a device could not be opened or claimed.
type UnavailableError struct {
	Device string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("serial device %s unavailable: %v", e.Device, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// LinkError reports a failure of an open channel: hangup, I/O fault, unplugged device.
// The handle is unusable afterwards and should be closed and reopened.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// SerialReader provides low-latency, killable, line-oriented access to a Linux serial port.
// Close may be called from any goroutine; reads belong to a single owner.
type SerialReader struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	delim     []byte
	pending   []byte
	buf       []byte
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device    string
	BaudRate  int
	Delimiter string // default "\n"; a trailing "\r" is always stripped
}

// Open opens a serial port using the provided Config and returns a SerialReader.
// The port is configured for raw, low-latency, non-buffered operation and claimed
// exclusively. Any failure is reported as *UnavailableError.
func Open(cfg Config) (*SerialReader, error) {
	device := cfg.Device
	if device == "" || device == AutoDevice {
		found, err := Detect()
		if err != nil {
			return nil, &UnavailableError{Device: cfg.Device, Err: err}
		}
		device = found
	}
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, &UnavailableError{Device: device, Err: fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)}
	}

	fd, err := syscall.Open(device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, &UnavailableError{Device: device, Err: fmt.Errorf("open failed: %w", err)}
	}
	fail := func(err error) (*SerialReader, error) {
		syscall.Close(fd)
		return nil, &UnavailableError{Device: device, Err: err}
	}

	// Refuse a port someone else already holds in exclusive mode, then take it.
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return fail(fmt.Errorf("claim: %w", err))
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fail(fmt.Errorf("get termios: %w", err))
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fail(fmt.Errorf("set termios: %w", err))
	}

	// Turn back into blocking mode now that config is done; poll gates every read.
	if err := syscall.SetNonblock(fd, false); err != nil {
		return fail(fmt.Errorf("set blocking: %w", err))
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		return fail(fmt.Errorf("pipe: %w", err))
	}

	delim := cfg.Delimiter
	if delim == "" {
		delim = "\n"
	}
	cfg.Device = device

	return &SerialReader{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), device),
		done:   make(chan struct{}),
		config: cfg,
		delim:  []byte(delim),
		buf:    make([]byte, 4096),
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// Device returns the path that was actually opened, which differs from the
// configured one when auto-detection picked the port.
func (s *SerialReader) Device() string {
	return s.config.Device
}

// NextLine returns the next complete line without its delimiter, waiting at most
// timeout for one to arrive. It returns ErrNoData when the timeout elapses,
// ErrClosed after Close, and *LinkError when the channel itself fails.
// Bytes are returned undecoded; a partial line stays buffered for the next call.
func (s *SerialReader) NextLine(timeout time.Duration) ([]byte, error) {
	if line, ok := s.popLine(); ok {
		return line, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-s.done:
			return nil, ErrClosed
		default:
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		// Round up so a sub-millisecond remainder still waits instead of spinning.
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		// Check killability
		select {
		case <-s.done:
			return nil, ErrClosed
		default:
		}
		if err != nil {
			return nil, &LinkError{Op: "poll", Err: err}
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return nil, ErrClosed
		}
		if n == 0 {
			if remaining == 0 {
				return nil, ErrNoData
			}
			continue
		}

		rev := pfd[0].Revents
		if rev&unix.POLLIN == 0 && rev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil, &LinkError{Op: "poll", Err: fmt.Errorf("device hung up (revents %#x)", rev)}
		}
		if rev&unix.POLLIN != 0 {
			if err := s.fill(); err != nil {
				return nil, err
			}
			if line, ok := s.popLine(); ok {
				return line, nil
			}
		}
	}
}

func (s *SerialReader) fill() error {
	n, err := s.file.Read(s.buf)
	if err != nil {
		select {
		case <-s.done:
			return ErrClosed
		default:
		}
		return &LinkError{Op: "read", Err: err}
	}
	if n == 0 {
		return &LinkError{Op: "read", Err: io.EOF}
	}
	s.pending = append(s.pending, s.buf[:n]...)
	return nil
}

func (s *SerialReader) popLine() ([]byte, bool) {
	idx := bytes.Index(s.pending, s.delim)
	if idx < 0 {
		if len(s.pending) < maxPending {
			return nil, false
		}
		idx = len(s.pending)
	}
	line := make([]byte, idx)
	copy(line, s.pending[:idx])
	rest := idx + len(s.delim)
	if rest > len(s.pending) {
		rest = len(s.pending)
	}
	s.pending = append(s.pending[:0], s.pending[rest:]...)
	return bytes.TrimSuffix(line, []byte("\r")), true
}

// ReadLinesLoop continuously reads lines from the serial port and invokes onLine for each complete line.
// It returns quietly after Close. Any other error is passed to onError and the loop exits.
func (s *SerialReader) ReadLinesLoop(onLine func([]byte), onError func(error)) {
	for {
		line, err := s.NextLine(250 * time.Millisecond)
		switch {
		case err == nil:
			onLine(line)
		case errors.Is(err, ErrNoData):
		case errors.Is(err, ErrClosed):
			return
		default:
			onError(err)
			return
		}
	}
}

// Close closes the serial port and unblocks any NextLine/ReadLinesLoop calls.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		if s.pipeW > 0 {
			unix.Write(s.pipeW, []byte{1})
		}
		unix.IoctlSetInt(s.fd, unix.TIOCNXCL, 0)
		if s.file != nil {
			err = s.file.Close()
		}
		if s.pipeR > 0 {
			unix.Close(s.pipeR)
		}
		if s.pipeW > 0 {
			unix.Close(s.pipeW)
		}
	})
	return err
}

// SupportedBaud reports whether Open accepts the given baud rate.
func SupportedBaud(baud int) bool {
	_, ok := baudToUnix(baud)
	return ok
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
