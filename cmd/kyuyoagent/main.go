package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/codegen"
	"github.com/formai-apps/kyuyoagent/internal/config"
	"github.com/formai-apps/kyuyoagent/internal/intent"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/orchestrator"
	"github.com/formai-apps/kyuyoagent/internal/provider"
	"github.com/formai-apps/kyuyoagent/internal/qa"
	"github.com/formai-apps/kyuyoagent/internal/rules"
	"github.com/formai-apps/kyuyoagent/internal/runner"
	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/store"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
	"github.com/formai-apps/kyuyoagent/internal/validator"
)

const welcomeMessage = `ようこそ！
私は給与計算タスク管理エージェントです！すべてのタスクを紹介し、それぞれのタスクとその処理ルールを詳しく説明することができます。その後、どのタスクに取り組むかを選択するお手伝いをします。`

type options struct {
	configPath string
	oneShot    string
}

func parseArgs(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("kyuyoagent", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the configuration file")
	fs.StringVar(&opts.oneShot, "message", "", "process a single message and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kyuyoagent [options]\n\n")
		fmt.Fprintf(fs.Output(), "Conversational payroll task agent.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, parseErr := parseArgs(os.Args[1:])
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Environment variables override the config file for logging.
	if envLevel := strings.TrimSpace(os.Getenv("KYUYOAGENT_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("KYUYOAGENT_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}

	var loggerInitialized bool
	defer func() {
		if !loggerInitialized {
			return
		}
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	loggerInitialized = true
	logger.Info("kyuyoagent starting")

	for _, dir := range []string{cfg.DataDir, cfg.OutputDir} {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
		}
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("task catalogue loaded: %d tasks", cat.Len())

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("failed to close file store: %v", closeErr)
		}
	}()

	if removed, cleanErr := st.DeleteOlderThan(cfg.RetentionDays); cleanErr != nil {
		logger.Warn("stored file cleanup failed: %v", cleanErr)
	} else if removed > 0 {
		logger.Info("removed %d stored files older than %d days", removed, cfg.RetentionDays)
	}

	ruleLoader := rules.NewLoader(cfg.RuleDir)
	defer func() {
		if closeErr := ruleLoader.Close(); closeErr != nil {
			logger.Warn("failed to close rule loader: %v", closeErr)
		}
	}()

	client, err := provider.NewManager(cfg.LLM).CreateClient()
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	logger.Info("using model %s", client.GetModelName())

	orch := orchestrator.New(orchestrator.Deps{
		Catalog:    cat,
		Classifier: intent.NewClassifier(client),
		Generator:  codegen.NewGenerator(client),
		Builder:    programBuilder{builder: runner.NewBuilder(cfg.TinyGoPath)},
		Chat:       client,
		Validator:  validator.New(cfg.DataDir),
		Store:      st,
		Rules:      ruleLoader,
		QA:         qa.New(client, ruleLoader),
		OutputDir:  cfg.OutputDir,
	})

	sess := session.NewManager().Create()
	logger.Info("session %s started", sess.ID)

	if opts.oneShot != "" {
		printReply(orch.ProcessMessage(context.Background(), sess, opts.oneShot))
		return nil
	}
	return repl(orch, sess, cat, st)
}

// programBuilder adapts the TinyGo build pipeline to the orchestrator.
type programBuilder struct {
	builder *runner.Builder
}

func (p programBuilder) Build(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (session.Program, error) {
	return p.builder.Build(ctx, source, functionName, frames)
}

func repl(orch *orchestrator.Orchestrator, sess *session.Session, cat *catalog.Catalog, st *store.Store) error {
	fmt.Println(welcomeMessage)
	fmt.Println()
	printTasks(cat)
	fmt.Println()
	fmt.Println("コマンド: /tasks /files /reset /quit。ファイルは「選択されたファイル: <パス>」の形式で送信してください。")

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)
	ctx := context.Background()

	for {
		if interactive {
			fmt.Print("> ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit":
			return nil
		case "/tasks":
			printTasks(cat)
			continue
		case "/files":
			if err := printFiles(st); err != nil {
				fmt.Printf("エラー: %v\n", err)
			}
			continue
		case "/reset":
			if err := orch.ResetSession(sess); err != nil {
				fmt.Printf("エラー: %v\n", err)
				continue
			}
			fmt.Println("新しいチャットを開始しました。")
			continue
		}

		printReply(orch.ProcessMessage(ctx, sess, input))
	}
}

func printReply(reply orchestrator.Reply) {
	for _, msg := range reply.Messages {
		fmt.Println(msg)
	}
}

func printTasks(cat *catalog.Catalog) {
	fmt.Println("タスク一覧:")
	for _, g := range cat.Groups() {
		fmt.Printf("- %s: %s\n", g.Name, g.Description())
	}
}

func printFiles(st *store.Store) error {
	files, err := st.List()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("アップロードされたファイルはありません。")
		return nil
	}
	fmt.Println("ファイル一覧:")
	for _, f := range files {
		output := ""
		if f.Output {
			output = " [出力用]"
		}
		fmt.Printf("- %s (タスク: %s, %s, %d行)%s\n",
			f.FileName, f.TaskName, f.UploadDate.Format("2006-01-02 15:04"), f.RowCount, output)
	}
	return nil
}
