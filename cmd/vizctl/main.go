// Package main is vizctl, a command-line client for the vizd daemon.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"

	"github.com/austinkregel/local-media/vizd/internal/config"
	"github.com/austinkregel/local-media/vizd/internal/ipc"
)

const usage = `usage: vizctl [-socket path] [-no-color] <command> [args]

commands:
  status                 daemon and session state
  metrics                current metrics
  watch                  stream metrics until interrupted
  export [-save] [-o f]  export the session snapshot
  exports [limit]        list stored exports
  reset                  clear history and tempo
  start | stop-analysis  resume or pause analysis
  classifier live|batch  select the classification strategy
  play <file> | stop     control the playback source
  classify <file>        classify one file
  library <dir>...       classify every audio file under the directories
  worker [stop|pause|resume]
                         batch classification progress and control
  config                 print the daemon configuration
`

func main() {
	_ = godotenv.Load()

	socket := flag.String("socket", os.Getenv(config.EnvSocket), "IPC socket path")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}
	if *socket == "" {
		*socket = fmt.Sprintf("/tmp/vizd-%d.sock", os.Getuid())
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := dial(*socket)
	if err != nil {
		fail(err)
	}
	defer c.Close()

	if err := runCommand(c, args[0], args[1:]); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, bad("error:"), err)
	os.Exit(1)
}

func runCommand(c *client, cmd string, args []string) error {
	switch cmd {
	case "status":
		data, err := c.call(ipc.CmdStatus, nil)
		if err != nil {
			return err
		}
		fmt.Print(formatStatus(data))

	case "metrics":
		data, err := c.call(ipc.CmdGetMetrics, nil)
		if err != nil {
			return err
		}
		fmt.Println(formatMetrics(data))

	case "watch":
		return watch(c)

	case "export":
		return export(c, args)

	case "exports":
		limit := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		data, err := c.call(ipc.CmdListExports, ipc.ListExportsRequest{Limit: limit})
		if err != nil {
			return err
		}
		fmt.Print(formatExports(data))

	case "reset":
		if _, err := c.call(ipc.CmdReset, nil); err != nil {
			return err
		}
		fmt.Println(good("session reset"))

	case "start":
		if _, err := c.call(ipc.CmdStartAnalysis, nil); err != nil {
			return err
		}
		fmt.Println(good("analysis started"))

	case "stop-analysis":
		if _, err := c.call(ipc.CmdStopAnalysis, nil); err != nil {
			return err
		}
		fmt.Println(good("analysis stopped"))

	case "classifier":
		if len(args) != 1 {
			return fmt.Errorf("usage: vizctl classifier live|batch")
		}
		data, err := c.call(ipc.CmdSetClassifier, ipc.SetClassifierRequest{Kind: args[0]})
		if err != nil {
			return err
		}
		fmt.Println(label("Classifier"), strong(gjson.GetBytes(data, "classifier").String()))

	case "play":
		if len(args) != 1 {
			return fmt.Errorf("usage: vizctl play <file>")
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		data, err := c.call(ipc.CmdPlay, ipc.PlayRequest{Path: path})
		if err != nil {
			return err
		}
		fmt.Print(formatStatus(data))

	case "stop":
		if _, err := c.call(ipc.CmdStop, nil); err != nil {
			return err
		}
		fmt.Println(good("playback stopped"))

	case "classify":
		if len(args) != 1 {
			return fmt.Errorf("usage: vizctl classify <file>")
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		data, err := c.call(ipc.CmdClassifyFile, ipc.PathRequest{Path: path})
		if err != nil {
			return err
		}
		fmt.Println(formatClassification(data))

	case "library":
		if len(args) == 0 {
			return fmt.Errorf("usage: vizctl library <dir>...")
		}
		paths := make([]string, 0, len(args))
		for _, a := range args {
			p, err := filepath.Abs(a)
			if err != nil {
				return err
			}
			paths = append(paths, p)
		}
		data, err := c.call(ipc.CmdClassifyLibrary, ipc.ClassifyLibraryRequest{Paths: paths})
		if err != nil {
			return err
		}
		fmt.Println(label("Worker"), gjson.GetBytes(data, "status").String(),
			gjson.GetBytes(data, "totalFiles").Int(), "files")

	case "worker":
		wcmd, err := workerCommand(args)
		if err != nil {
			return err
		}
		data, err := c.call(wcmd, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %d/%d classified, %d skipped, %d failed\n",
			label("Worker"), gjson.GetBytes(data, "status").String(),
			gjson.GetBytes(data, "classified").Int(), gjson.GetBytes(data, "totalFiles").Int(),
			gjson.GetBytes(data, "skipped").Int(), gjson.GetBytes(data, "failed").Int())
		if msg := gjson.GetBytes(data, "message").String(); msg != "" {
			fmt.Println(muted(msg))
		}

	case "config":
		data, err := c.call(ipc.CmdGetConfig, nil)
		if err != nil {
			return err
		}
		return printJSON(data)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// watch subscribes to metrics and redraws one line per push
func watch(c *client) error {
	if _, err := c.call(ipc.CmdSubscribeMetrics, nil); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		c.Close()
	}()

	for {
		env, err := c.next()
		if err != nil {
			fmt.Println()
			return nil
		}
		if env.Push != ipc.PushMetrics {
			continue
		}
		metrics := gjson.GetBytes(env.Data, "metrics").Raw
		fmt.Printf("\r\033[K%s", formatMetrics([]byte(metrics)))
	}
}

func export(c *client, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	save := fs.Bool("save", false, "Persist the snapshot in the daemon store")
	out := fs.String("o", "", "Write the snapshot to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := c.call(ipc.CmdExport, ipc.ExportRequest{Save: *save})
	if err != nil {
		return err
	}

	snapshot := []byte(gjson.GetBytes(data, "snapshot").Raw)
	if id := gjson.GetBytes(data, "id").Int(); id > 0 {
		fmt.Fprintln(os.Stderr, good(fmt.Sprintf("stored as export #%d", id)))
	}

	if *out == "" {
		return printJSON(snapshot)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, snapshot, "", "  "); err != nil {
		return err
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "%s %d history entries to %s\n", good("wrote"),
		gjson.GetBytes(snapshot, "analysisHistory.#").Int(), *out)
	return nil
}

func printJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}

// workerCommand maps "vizctl worker [action]" to its IPC command
func workerCommand(args []string) (ipc.CommandType, error) {
	if len(args) == 0 {
		return ipc.CmdGetWorkerStatus, nil
	}
	if len(args) == 1 {
		switch args[0] {
		case "stop":
			return ipc.CmdStopWorker, nil
		case "pause":
			return ipc.CmdPauseWorker, nil
		case "resume":
			return ipc.CmdResumeWorker, nil
		}
	}
	return "", fmt.Errorf("usage: vizctl worker [stop|pause|resume]")
}
