package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/BaSui01/crewplanner/agent/planner"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/types"
)

// chatSession 终端对话用到的状态机操作
type chatSession interface {
	HandleMessage(ctx context.Context, sessionID, input string) (*planner.Reply, error)
	Snapshot(ctx context.Context, sessionID string) planner.Session
	History(ctx context.Context, sessionID string) []types.Message
	Reset(ctx context.Context, sessionID string) error
}

const prompt = "> "

// chatLoop 逐行读取用户输入直到 EOF、/quit 或 ctx 结束
func chatLoop(ctx context.Context, conv chatSession, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "session: %s\n", sessionID)
	s := conv.Snapshot(ctx, sessionID)
	if s.State != planner.StateInitial {
		fmt.Fprintf(out, "resumed in state %s\n", s.State)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "/quit", "/exit":
			return nil
		case "/state":
			s := conv.Snapshot(ctx, sessionID)
			fmt.Fprintf(out, "state: %s\n", s.State)
			if s.ExecutionID != "" {
				fmt.Fprintf(out, "execution: %s\n", s.ExecutionID)
			}
			continue
		case "/history":
			for _, m := range conv.History(ctx, sessionID) {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
			continue
		case "/reset":
			if err := conv.Reset(ctx, sessionID); err != nil {
				fmt.Fprintf(out, "reset failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "session reset")
			}
			continue
		}

		reply, err := conv.HandleMessage(ctx, sessionID, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.Content)
	}
}

// listTools 打印工具列表；discover 为真时向 mcp_stdio 服务端查询其暴露的工具
func listTools(ctx context.Context, reg *tools.Registry, discover bool, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tDESCRIPTION")
	for _, name := range reg.Names() {
		cfg, _ := reg.Config(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, cfg.Type, cfg.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !discover {
		return nil
	}

	for _, name := range reg.Names() {
		cfg, _ := reg.Config(name)
		if cfg.Type != tools.TypeMCPStdio {
			continue
		}
		defs, err := reg.Discover(ctx, name)
		if err != nil {
			fmt.Fprintf(out, "\n%s: discovery failed: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "\n%s exposes %d tool(s):\n", name, len(defs))
		for _, d := range defs {
			fmt.Fprintf(out, "  - %s: %s\n", d.Name, d.Description)
		}
	}
	return nil
}
