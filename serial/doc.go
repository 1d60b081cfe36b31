// Package serial provides a minimal, Linux-only, line-oriented serial port reader
// for sensor boards that print newline-terminated text frames.
//
// Features:
//   - Raw termios configuration, exclusive claim of the port (TIOCEXCL)
//   - NextLine: poll with a timeout, returning ErrNoData instead of blocking forever
//   - Distinct errors for "could not open" (*UnavailableError) and "channel failed" (*LinkError)
//   - Self-pipe mechanism so Close unblocks a pending NextLine from another goroutine
//   - Port auto-detection for USB CDC-ACM and USB-serial adapters
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	r, err := serial.Open(serial.Config{Device: "/dev/ttyACM0", BaudRate: 9600})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	for {
//	    line, err := r.NextLine(100 * time.Millisecond)
//	    switch {
//	    case errors.Is(err, serial.ErrNoData):
//	        continue
//	    case err != nil:
//	        log.Fatal(err) // *LinkError: reopen the port
//	    }
//	    fmt.Printf("Received: %s\n", line)
//	}
package serial
