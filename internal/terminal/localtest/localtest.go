// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package localtest spawns a real PTY-attached shell so terminal driver
// tests can exercise command construction against an actual pseudo-terminal
// instead of only mocking exec.Cmd.
package localtest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// Shell is a PTY-backed shell process usable as a driver test fixture.
type Shell struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// Start launches /bin/sh attached to a fresh PTY.
func Start() (*Shell, error) {
	cmd := exec.Command("/bin/sh")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty shell: %w", err)
	}
	return &Shell{cmd: cmd, ptmx: ptmx}, nil
}

// Write sends a line of input followed by a newline.
func (s *Shell) Write(line string) error {
	_, err := s.ptmx.Write([]byte(line + "\n"))
	return err
}

// ReadUntil polls the PTY's output until it contains substr or ctx expires,
// returning everything read so far.
func (s *Shell) ReadUntil(ctx context.Context, substr string) (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	for time.Now().Before(deadline) {
		s.ptmx.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := s.ptmx.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if bytes.Contains(buf.Bytes(), []byte(substr)) {
				return buf.String(), nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return buf.String(), ctx.Err()
			}
			continue
		}
	}
	return buf.String(), fmt.Errorf("timed out waiting for %q, got: %q", substr, buf.String())
}

// Close terminates the shell and releases the PTY.
func (s *Shell) Close() error {
	s.ptmx.Close()
	return s.cmd.Process.Kill()
}
