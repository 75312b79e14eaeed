/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package console is the operator-facing REPL (§6 "an operator console is
// not optional"): heap depth, oldest open transaction, checkpoint
// watermark, a command to force an immediate checkpoint, and a command to
// request a clean shutdown. Grounded on scm/prompt.go's Repl: a
// chzyer/readline loop with history, an interrupt prompt, and a
// recover-and-keep-going panic boundary around each line, the difference
// being that this console parses a small fixed command set instead of
// full Scheme.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

const (
	prompt = "\033[32mredocap>\033[0m "
)

// Status is the read-only snapshot the console prints for "status".
type Status struct {
	Sequence     uint32
	WatermarkSCN uint64
	OpenTxns     int
	HeapDepth    int
	OldestXID    string
}

// Console reads operator commands until "quit" or EOF. ForceCheckpoint and
// RequestShutdown are hooks the caller (main.go) wires to the real
// actions; StatusFunc supplies the live numbers for "status".
type Console struct {
	StatusFunc      func() Status
	ForceCheckpoint func() error
	RequestShutdown func()

	HistoryFile string
}

func New() *Console {
	return &Console{HistoryFile: ".redocap-history.tmp"}
}

// Run blocks processing commands until the operator quits or the readline
// loop hits EOF; an interrupt (Ctrl-C) only abandons the current line. It
// is meant to run in its own goroutine alongside the replay loop.
func (c *Console) Run() error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       c.HistoryFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.dispatch(line)
		if cmd := strings.ToLower(strings.Fields(line)[0]); cmd == "quit" || cmd == "shutdown" {
			return nil
		}
	}
}

func (c *Console) dispatch(line string) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("console error:", r)
		}
	}()

	switch strings.ToLower(strings.Fields(line)[0]) {
	case "status":
		if c.StatusFunc == nil {
			fmt.Println("status not available")
			return
		}
		st := c.StatusFunc()
		fmt.Printf("sequence=%d watermark_scn=0x%x open_txns=%d heap_depth=%d oldest_xid=%s\n",
			st.Sequence, st.WatermarkSCN, st.OpenTxns, st.HeapDepth, st.OldestXID)
	case "checkpoint":
		if c.ForceCheckpoint == nil {
			fmt.Println("checkpoint not available")
			return
		}
		if err := c.ForceCheckpoint(); err != nil {
			fmt.Println("checkpoint failed:", err)
		} else {
			fmt.Println("checkpoint written")
		}
	case "quit", "shutdown":
		if c.RequestShutdown != nil {
			c.RequestShutdown()
		}
		fmt.Println("shutdown requested")
	case "help":
		fmt.Println("commands: status, checkpoint, quit")
	default:
		fmt.Println("unknown command:", line, "(try: help)")
	}
}
