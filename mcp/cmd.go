// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// A StdioTransport is a [Transport] that communicates over stdin/stdout
// using newline-delimited JSON.
type StdioTransport struct{}

// NewStdioTransport returns a transport over os.Stdin and os.Stdout.
func NewStdioTransport() *StdioTransport {
	return &StdioTransport{}
}

func (t *StdioTransport) Connect(ctx context.Context) (Connection, error) {
	return newIOConn(rwc{os.Stdin, os.Stdout}), nil
}

// A rwc binds separate read and write streams into an io.ReadWriteCloser.
type rwc struct {
	rc io.ReadCloser
	wc io.WriteCloser
}

func (r rwc) Read(p []byte) (int, error)  { return r.rc.Read(p) }
func (r rwc) Write(p []byte) (int, error) { return r.wc.Write(p) }

func (r rwc) Close() error {
	return errors.Join(r.rc.Close(), r.wc.Close())
}

// A CommandTransport is a [Transport] that runs a command and communicates
// with it over stdin/stdout, using newline-delimited JSON.
type CommandTransport struct {
	cmd *exec.Cmd
}

// NewCommandTransport returns a transport that runs cmd.
//
// The command must not already be started. Its stdin and stdout are
// overwritten by the transport.
func NewCommandTransport(cmd *exec.Cmd) *CommandTransport {
	return &CommandTransport{cmd: cmd}
}

// Connect starts the command and connects to it over stdin/stdout.
func (t *CommandTransport) Connect(ctx context.Context) (Connection, error) {
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := t.cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdConn{ioConn: newIOConn(rwc{stdout, stdin}), cmd: t.cmd}, nil
}

// A cmdConn is an [ioConn] that closes the subprocess on Close.
type cmdConn struct {
	*ioConn
	cmd *exec.Cmd
}

// The amount of time to wait for the subprocess to exit after closing its
// stdin, before killing it.
const waitDuration = 5 * time.Second

func (c *cmdConn) Close() error {
	// Closing stdin gives the subprocess a chance to exit cleanly.
	if err := c.ioConn.Close(); err != nil {
		return err
	}
	resChan := make(chan error, 1)
	go func() { resChan <- c.cmd.Wait() }()
	select {
	case err := <-resChan:
		return exitErr(err)
	case <-time.After(waitDuration):
	}
	if err := c.cmd.Process.Kill(); err != nil {
		return err
	}
	return exitErr(<-resChan)
}

// exitErr filters expected exit conditions after we closed the process's
// stdin or killed it.
func exitErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.Sys().(syscall.WaitStatus).Signal() {
		case syscall.SIGKILL, syscall.SIGPIPE:
			return nil
		}
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("command exited: %w", err)
	}
	return err
}
