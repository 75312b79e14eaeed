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

// redocap replays a source database's redo log into a stream of logical
// change events (§1, §2). This file wires the §6 configuration surface to
// the collaborating packages and starts the three concurrent pieces: the
// replay loop itself, the operator console, and the dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"

	"github.com/launix-de/redocap/bootstrap"
	"github.com/launix-de/redocap/checkpoint"
	"github.com/launix-de/redocap/console"
	"github.com/launix-de/redocap/dashboard"
	"github.com/launix-de/redocap/output"
	"github.com/launix-de/redocap/replay"
	"github.com/launix-de/redocap/schema"
)

// exitCode maps the replay loop's result to the process exit code (§6): 0
// for a clean shutdown, 2 for any fatal replay error. Configuration errors
// exit with 1 from main before the loop starts.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 2
}

func main() {
	fmt.Fprint(os.Stderr, `redocap  Copyright (C) 2026  Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	cfg, flags, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "redocap: configuration error:", err)
		os.Exit(1)
	}

	dict := schema.NewDictionary(cfg.SchemaKeep)
	if loader := buildLoader(flags); loader != nil {
		rows, err := loader.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "redocap: bootstrap failed:", err)
			os.Exit(1)
		}
		dict.Load(rows)
	}

	cpStore, err := buildCheckpointStore(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redocap: checkpoint backend error:", err)
		os.Exit(1)
	}

	out := output.NewBuffer()
	locator := replay.DirLocator{
		Database:   cfg.Database,
		OnlineDir:  flags.onlineDir,
		ArchiveDir: flags.archiveDir,
	}
	loop := replay.NewLoop(cfg, dict, out, cpStore, locator, nil)

	// a final checkpoint on any exit path this process takes, including an
	// unexpected os.Exit elsewhere, not just the clean shutdown Run already
	// performs on its own return path.
	onexit.Register(func() {
		if err := loop.Checkpoint(); err != nil {
			fmt.Fprintln(os.Stderr, "redocap: exit checkpoint failed:", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		loop.Stop()
	}()

	if flags.consoleEnabled {
		c := console.New()
		c.StatusFunc = func() console.Status {
			st := loop.Status()
			return console.Status{
				Sequence:     st.Sequence,
				WatermarkSCN: st.WatermarkSCN,
				OpenTxns:     st.OpenTxns,
				HeapDepth:    st.HeapDepth,
				OldestXID:    st.OldestXID,
			}
		}
		c.ForceCheckpoint = loop.Checkpoint
		c.RequestShutdown = loop.Stop
		go func() {
			if err := c.Run(); err != nil {
				fmt.Fprintln(os.Stderr, "redocap: console exited:", err)
			}
		}()
	}

	if flags.dashboardAddr != "" {
		dash := dashboard.NewServer()
		go func() {
			if err := dash.ListenAndServe(flags.dashboardAddr); err != nil {
				fmt.Fprintln(os.Stderr, "redocap: dashboard exited:", err)
			}
		}()
		go pushDashboardStatus(ctx, loop, dash)
	}

	go drainOutput(out, flags.outputPath)

	runErr := loop.Run()
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "redocap: replay stopped:", runErr)
	}
	os.Exit(exitCode(runErr))
}

func buildLoader(f cliFlags) bootstrap.Loader {
	switch f.bootstrapKind {
	case "mysql":
		return &bootstrap.MySQLLoader{Host: f.srcHost, Port: f.srcPort, User: f.srcUser, Password: f.srcPassword, Database: f.srcDatabase}
	case "postgres":
		return &bootstrap.PostgresLoader{Host: f.srcHost, Port: f.srcPort, User: f.srcUser, Password: f.srcPassword, Database: f.srcDatabase}
	default:
		return nil
	}
}

func buildCheckpointStore(f cliFlags) (checkpoint.Store, error) {
	switch f.checkpointKind {
	case "s3":
		return checkpoint.NewS3Store(checkpoint.S3Config{
			Bucket: f.s3Bucket,
			Key:    f.s3Key,
			Region: f.s3Region,
		}), nil
	case "ceph":
		return checkpoint.NewCephStore(checkpoint.CephConfig{
			Pool:     f.cephPool,
			Object:   f.cephObject,
			ConfFile: f.cephConfigPath,
		}), nil
	default:
		return checkpoint.NewFileStore(f.checkpointPath), nil
	}
}

// drainOutput is the default §6 writer backend: one cursor over the output
// buffer, written newline-delimited to outputPath (or stdout when unset).
// Real production sinks (Kafka, a message queue) are out of scope (§1
// non-goals); this is the minimal consumer that exercises the buffer's
// reserve/commit contract end to end.
func drainOutput(out *output.Buffer, path string) {
	w := os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "redocap: cannot open output path:", err)
			return
		}
		defer f.Close()
		w = f
	}
	id := out.NewCursor()
	defer out.CloseCursor(id)
	for {
		msg, sentinel, ok := out.Read(id)
		if !ok || sentinel {
			return
		}
		w.Write(msg)
		w.Write([]byte{'\n'})
	}
}

// pushDashboardStatus feeds one dashboard.Status frame every two seconds
// until ctx is cancelled (§6 dashboard listen address option).
func pushDashboardStatus(ctx context.Context, loop *replay.Loop, dash *dashboard.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		st := loop.Status()
		dash.Push(dashboard.Status{
			Sequence:     st.Sequence,
			WatermarkSCN: st.WatermarkSCN,
			OpenTxns:     st.OpenTxns,
			HeapDepth:    st.HeapDepth,
			LastTick:     time.Now(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
