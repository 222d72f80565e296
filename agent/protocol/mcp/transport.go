package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// MaxSkippedLines 等待响应时最多读取的行数（诊断输出、通知、其他 id 的响应都计入）
const MaxSkippedLines = 100

var ErrTooManyLines = errors.New("mcp: no matching response within line limit")

// LineTransport 按行分隔的 JSON-RPC 传输。
// 子进程常把日志打印到 stdout，非 JSON 行会被跳过。
type LineTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	logger  *zap.Logger
}

// NewLineTransport 创建按行传输
func NewLineTransport(r io.Reader, w io.Writer, logger *zap.Logger) *LineTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineTransport{reader: bufio.NewReader(r), writer: w, logger: logger}
}

// Send 写入一条请求，以换行结尾
func (t *LineTransport) Send(req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	body = append(body, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReceiveFor 读取直到出现 id 匹配的响应
func (t *LineTransport) ReceiveFor(id int64) (*Response, error) {
	for i := 0; i < MaxSkippedLines; i++ {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if resp, ok := t.decode(line); ok && resp.Matches(id) {
				return resp, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
	}
	return nil, ErrTooManyLines
}

func (t *LineTransport) decode(line []byte) (*Response, bool) {
	if line[0] != '{' {
		t.logger.Debug("skipping diagnostic line", zap.ByteString("line", line))
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.logger.Debug("skipping malformed line", zap.ByteString("line", line), zap.Error(err))
		return nil, false
	}
	if resp.JSONRPC != JSONRPCVersion || (resp.Result == nil && resp.Error == nil) {
		// 通知或其他非响应消息
		return nil, false
	}
	return &resp, true
}
