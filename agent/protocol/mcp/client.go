package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrClientClosed = errors.New("mcp: client closed")

// StdioConfig 子进程启动参数
type StdioConfig struct {
	Command string
	Args    []string
	// Env 追加到当前进程环境变量之后
	Env map[string]string
	Dir string
}

// StdioClient 独占一个说 JSON-RPC 的子进程。
// 首次调用时启动子进程；子进程退出或调用超时后，下一次调用会重新拉起。
// 同一时刻只有一个请求在途。
type StdioClient struct {
	cfg    StdioConfig
	logger *zap.Logger
	nextID atomic.Int64

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *os.File
	transport *LineTransport
	exited    chan struct{}
	spawns    int
	closed    bool
}

// NewStdioClient 创建客户端，不会立即启动子进程
func NewStdioClient(cfg StdioConfig, logger *zap.Logger) *StdioClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioClient{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mcp_stdio"), zap.String("command", cfg.Command)),
	}
}

// Spawns 返回子进程被启动的次数
func (c *StdioClient) Spawns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawns
}

// Running 子进程是否存活
func (c *StdioClient) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

func (c *StdioClient) aliveLocked() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

func (c *StdioClient) startLocked() error {
	if c.cfg.Command == "" {
		return errors.New("mcp: empty command")
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = &stderrLogger{logger: c.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	// stdout 用 os.Pipe：cmd.Wait 不会关闭我们持有的读端，子进程退出前写出的数据仍可读
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("start %s: %w", c.cfg.Command, err)
	}
	pw.Close()

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		c.logger.Debug("child exited", zap.Error(err))
		close(exited)
	}()

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = pr
	c.transport = NewLineTransport(pr, stdin, c.logger)
	c.exited = exited
	c.spawns++
	c.logger.Info("child started", zap.Int("pid", cmd.Process.Pid), zap.Int("spawns", c.spawns))
	return nil
}

func (c *StdioClient) stopLocked() {
	if c.cmd == nil {
		return
	}
	_ = c.stdin.Close()
	if c.aliveLocked() {
		_ = c.cmd.Process.Kill()
	}
	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		c.logger.Warn("child did not exit after kill")
	}
	_ = c.stdout.Close()
	c.cmd, c.stdin, c.stdout, c.transport = nil, nil, nil, nil
}

// Call 发送请求并等待匹配的响应。ctx 结束时终止子进程，下次调用重新拉起。
func (c *StdioClient) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if !c.aliveLocked() {
		if c.cmd != nil {
			c.logger.Warn("child not running, respawning")
		}
		c.stopLocked()
		if err := c.startLocked(); err != nil {
			return nil, err
		}
	}

	id := c.nextID.Add(1)
	if err := c.transport.Send(NewRequest(id, method, params)); err != nil {
		c.stopLocked()
		return nil, err
	}

	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)
	tr := c.transport
	go func() {
		resp, err := tr.ReceiveFor(id)
		ch <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		c.logger.Warn("call aborted, killing child", zap.String("method", method), zap.Error(ctx.Err()))
		c.stopLocked()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			c.stopLocked()
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, r.resp.Error
		}
		return r.resp.Result, nil
	}
}

// ListTools tools/list
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	raw, err := c.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var out listResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return out.Tools, nil
}

// GetTool tools/get
func (c *StdioClient) GetTool(ctx context.Context, name string) (*ToolDefinition, error) {
	raw, err := c.Call(ctx, MethodToolsGet, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	var def ToolDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode tools/get: %w", err)
	}
	return &def, nil
}

// CallTool tools/call
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.Call(ctx, MethodToolsCall, map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var out CallResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tools/call: %w", err)
	}
	return &out, nil
}

// Close 终止子进程，之后的调用返回 ErrClientClosed
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked()
	return nil
}

// stderrLogger 把子进程 stderr 按行写入日志
type stderrLogger struct {
	logger *zap.Logger
	buf    []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Debug("child stderr", zap.ByteString("line", line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
