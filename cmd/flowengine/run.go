package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/workflow"
)

// =============================================================================
// ▶️ run / validate 命令
// =============================================================================

// runRequest 描述一次命令行执行
type runRequest struct {
	WorkflowPath string
	WorkflowID   string
	Input        string
	Options      workflow.RunOptions
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := commonFlags(fs)
	var req runRequest
	fs.StringVar(&req.WorkflowPath, "workflow", "", "Workflow definition file (JSON or YAML)")
	fs.StringVar(&req.WorkflowID, "id", "", "Workflow id in the repository")
	fs.StringVar(&req.Input, "input", "{}", "Invocation payload as JSON")
	fs.StringVar(&req.Options.UserID, "user", "", "Caller identity")
	fs.DurationVar(&req.Options.Timeout, "timeout", 0, "Run timeout override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// 结果写到 stdout，日志让出 stdout
	cfg.Log.OutputPaths = withoutStdout(cfg.Log.OutputPaths)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("shutdown error", zap.Error(cerr))
		}
	}()

	result, err := executeRun(ctx, a.engine, req)
	if result != nil {
		if werr := writeJSON(os.Stdout, result); werr != nil {
			return werr
		}
	}
	return err
}

// executeRun 运行文件中的工作流或仓库中的工作流
func executeRun(ctx context.Context, engine *workflow.Engine, req runRequest) (*workflow.RunResult, error) {
	if (req.WorkflowPath == "") == (req.WorkflowID == "") {
		return nil, errors.New("exactly one of -workflow or -id is required")
	}

	var payload any
	if err := json.Unmarshal([]byte(req.Input), &payload); err != nil {
		return nil, fmt.Errorf("invalid -input JSON: %w", err)
	}

	if req.WorkflowID != "" {
		return engine.RunWorkflow(ctx, req.WorkflowID, payload, req.Options)
	}

	g, err := workflow.LoadGraphFile(req.WorkflowPath)
	if err != nil {
		return nil, err
	}
	if req.Options.WorkflowID == "" {
		req.Options.WorkflowID = definitionName(req.WorkflowPath)
	}
	return engine.Run(ctx, g, payload, req.Options)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("workflow", "", "Workflow definition file (JSON or YAML)")
	_ = fs.Parse(args)
	if *path == "" {
		return errors.New("-workflow is required")
	}
	return validateFile(os.Stdout, *path)
}

// validateFile 加载并校验定义，不执行
func validateFile(w io.Writer, path string) error {
	g, err := workflow.LoadGraphFile(path)
	if err != nil {
		return err
	}
	if err := workflow.NewEngine(workflow.Dependencies{}).Validate(g); err != nil {
		return err
	}
	fmt.Fprintf(w, "OK: %s (%d nodes, %d edges)\n", path, len(g.Nodes), len(g.Edges))
	return nil
}

// exitCode 校验失败返回 2，其余错误返回 1
func exitCode(err error) int {
	if workflow.IsValidation(err) {
		return 2
	}
	return 1
}

func definitionName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func withoutStdout(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "stdout" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, "stderr")
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
