// Command mnemexd is the tool-call transport spec §6 leaves to
// reimplementers: a line-delimited JSON request loop over stdio. Each
// line is a `{name, arguments}` request; each response is a single line
// of `{content:[...]}`/`{content:[...],isError:true}` JSON, matching the
// wire shape internal/dispatch already produces.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/dispatch"
	"github.com/mnemex/mnemex/internal/engine"
)

// request is the wire shape spec §6 names for every tool call.
type request struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	projectDir := flag.String("dir", ".", "directory to detect the project id from")
	flag.Parse()

	if err := run(*configPath, *projectDir); err != nil {
		fmt.Fprintln(os.Stderr, "mnemexd:", err)
		os.Exit(1)
	}
}

func run(configPath, projectDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = config.DetectProjectID(projectDir)
	}
	if projectID == "" {
		projectID = "global"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(ctx, cfg, projectID, log)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if _, err := eng.Session.Start(ctx); err != nil {
		log.Warn("mnemexd: session start failed", "error", err)
	}

	go eng.Run(ctx)
	go eng.IdleConsolidationLoop(ctx, projectID, cfg.ConsolidationIdleAfter, cfg.ConsolidationInterval)

	stopWatch := make(chan struct{})
	if configPath != "" {
		go func() {
			if err := config.Watch(configPath, log, func(*config.Config) {
				log.Info("mnemexd: config reloaded; restart to apply restart-only knobs")
			}, stopWatch); err != nil {
				log.Warn("mnemexd: config watch stopped", "error", err)
			}
		}()
	}

	serveErr := serve(ctx, eng.Dispatch, log)

	close(stopWatch)
	if err := eng.Shutdown(context.Background()); err != nil {
		log.Error("mnemexd: shutdown failed", "error", err)
	}
	return serveErr
}

// serve runs the stdio request loop until ctx is cancelled or stdin is
// closed, mirroring the teacher's own bufio.Reader.ReadBytes('\n')
// request-framing loop (internal/rpc's handleConnection), adapted from a
// unix-socket connection to stdin/stdout.
func serve(ctx context.Context, impl *dispatch.Impl, log *slog.Logger) error {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)

	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if werr := handleLine(ctx, impl, writer, line); werr != nil {
				log.Error("mnemexd: write response failed", "error", werr)
			}
		}
		if err != nil {
			return nil
		}
	}
}

func handleLine(ctx context.Context, impl *dispatch.Impl, writer *bufio.Writer, line []byte) error {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		resp := dispatch.Response{
			Content: []dispatch.Content{{Type: "text", Text: fmt.Sprintf(`{"error":"malformed request: %s"}`, jsonEscape(err.Error()))}},
			IsError: true,
		}
		return writeResponse(writer, resp)
	}

	resp := dispatch.Dispatch(ctx, impl, req.Name, req.Arguments)
	return writeResponse(writer, resp)
}

func writeResponse(writer *bufio.Writer, resp dispatch.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := writer.Write(b); err != nil {
		return err
	}
	if err := writer.WriteByte('\n'); err != nil {
		return err
	}
	return writer.Flush()
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
