// Package mcpstub 是测试用的 stdio 工具服务器。
//
// 测试通过重新执行测试二进制（TestHelperProcess 模式）把它作为子进程启动：
//
//	func TestHelperProcess(t *testing.T) {
//	    if os.Getenv(mcpstub.EnvHelper) != "1" {
//	        return
//	    }
//	    os.Exit(mcpstub.Serve(os.Stdin, os.Stdout))
//	}
package mcpstub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// EnvHelper 标记当前进程应作为 stub 服务器运行
const EnvHelper = "CREWPLANNER_MCP_HELPER"

// HelperArgs 返回重新执行测试二进制所需的参数
func HelperArgs() []string {
	return []string{"-test.run=^TestHelperProcess$", "--"}
}

// HelperEnv 返回子进程需要的环境变量
func HelperEnv() map[string]string {
	return map[string]string{EnvHelper: "1"}
}

// Banner 启动时打印到 stdout 的诊断行
var Banner = []string{"starting…", "ready", "{bad json"}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  map[string]any  `json:"params"`
}

var tools = []map[string]any{
	{"name": "echo", "description": "Echo the text argument", "inputSchema": map[string]any{
		"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}},
	}},
	{"name": "noisy", "description": "Print diagnostics before answering"},
	{"name": "slow", "description": "Sleep for ms milliseconds"},
	{"name": "pid", "description": "Return the server pid"},
	{"name": "fail", "description": "Always returns an rpc error"},
	{"name": "crash", "description": "Exit without answering"},
}

// Serve 处理请求直到 stdin 关闭，返回进程退出码。
//
// tools/call 行为：
//   - echo: 返回 arguments.text，缺省为 "ok"
//   - noisy: 先打印 5 行诊断信息再返回 "ok"
//   - slow: 睡眠 arguments.ms 毫秒后返回 "done"
//   - pid: 返回当前进程 pid
//   - fail: 返回 -32603 错误
//   - crash: 不回复，以退出码 3 退出
func Serve(in io.Reader, out io.Writer) int {
	w := bufio.NewWriter(out)
	emit := func(s string) {
		fmt.Fprintln(w, s)
		w.Flush()
	}
	for _, line := range Banner {
		emit(line)
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			emit(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`)
			continue
		}
		emit("log: handling " + req.Method)

		var result any
		var rpcErr map[string]any

		switch req.Method {
		case "tools/list":
			result = map[string]any{"tools": tools}
		case "tools/get":
			name, _ := req.Params["name"].(string)
			for _, t := range tools {
				if t["name"] == name {
					result = t
				}
			}
			if result == nil {
				rpcErr = map[string]any{"code": -32602, "message": "unknown tool " + name}
			}
		case "tools/call":
			name, _ := req.Params["name"].(string)
			args, _ := req.Params["arguments"].(map[string]any)
			switch name {
			case "echo":
				text := "ok"
				if s, ok := args["text"].(string); ok && s != "" {
					text = s
				}
				result = textResult(text)
			case "noisy":
				for i := 0; i < 5; i++ {
					emit("diagnostic " + strconv.Itoa(i))
				}
				result = textResult("ok")
			case "slow":
				ms, _ := args["ms"].(float64)
				time.Sleep(time.Duration(ms) * time.Millisecond)
				result = textResult("done")
			case "pid":
				result = textResult(strconv.Itoa(os.Getpid()))
			case "fail":
				rpcErr = map[string]any{"code": -32603, "message": "tool failed"}
			case "crash":
				return 3
			default:
				rpcErr = map[string]any{"code": -32602, "message": "unknown tool " + name}
			}
		default:
			rpcErr = map[string]any{"code": -32601, "message": "method not found"}
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		data, _ := json.Marshal(resp)
		emit(string(data))
	}
	return 0
}

func textResult(text string) map[string]any {
	return map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}
}
