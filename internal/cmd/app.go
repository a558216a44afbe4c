// Package cmd provides the CLI commands for the RCSB PDB chatbot tooling.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/config"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/convert"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/download"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/drive"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/kb"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/ragflow"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/session"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/syncer"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/version"
)

// defaultAssistantName is the RAGFlow chat assistant backing user sessions.
const defaultAssistantName = "RCSB PDB Chatbot"

var (
	// konfig is the global koanf instance.
	konfig = koanf.New(".")
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// getLogFormat returns the configured log format from RCSB_LOG_FORMAT.
func getLogFormat() LogFormat {
	val := strings.ToLower(os.Getenv("RCSB_LOG_FORMAT"))
	switch val {
	case "json":
		return LogFormatJSON
	case "text", "":
		return LogFormatText
	default:
		// Invalid format - will warn after logger is set up
		return LogFormatText
	}
}

// setupLogging configures the global logger based on the verbose flag and RCSB_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format := getLogFormat()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	envVal := strings.ToLower(os.Getenv("RCSB_LOG_FORMAT"))
	if envVal != "" && envVal != "text" && envVal != "json" {
		slog.Warn("Invalid RCSB_LOG_FORMAT value, using text format", "value", envVal)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "rcsb-chatbot",
		Usage:   "Sync curated Google Drive documents into a RAGFlow knowledge base and manage chat sessions",
		Version: version.Version,
		Flags: []cli.Flag{
			verboseFlag,
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			// Load environment variables with RCSB_ prefix
			if err := konfig.Load(env.Provider(".", env.Opt{
				Prefix: "RCSB_",
			}), nil); err != nil {
				return ctx, fmt.Errorf("load env: %w", err)
			}

			if err := config.Load(); err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}

			return ctx, nil
		},
		Commands: []*cli.Command{
			syncCommand(),
			statusCommand(),
			authCommand(),
			kbCommand(),
			chatCommand(),
		},
	}
}

// syncCommand creates the sync subcommand.
func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync the Google Drive folder to the local document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "folder-url",
				Usage:   "Google Drive folder URL",
				Sources: cli.EnvVars("GOOGLE_DRIVE_FOLDER_URL"),
			},
			&cli.StringFlag{
				Name:  "converter",
				Usage: "Preferred webpage-to-PDF backend (chrome or wkhtmltopdf)",
				Value: convert.BackendChrome,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would change without downloading anything",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Get()

			folderURL := cmd.String("folder-url")
			if folderURL == "" {
				folderURL = cfg.FolderURL
			}
			if folderURL == "" {
				return apperrors.ErrFolderURLRequired
			}

			driveClient, err := setupDriveClient(ctx, cfg)
			if err != nil {
				return err
			}

			converter := convert.NewConverter(cmd.String("converter"), convert.WithLogger(slog.Default()))
			downloader := download.NewDownloader(driveClient, converter, cfg.DownloadDir,
				download.WithMaxFileSize(cfg.MaxFileSize),
				download.WithHTTPClient(&http.Client{Timeout: cfg.DownloadTimeout}),
				download.WithLogger(slog.Default()))

			trigger := syncer.NewCommandTrigger(cfg.KBSyncCommand, cfg.KBSyncTimeout, slog.Default())

			s := syncer.New(driveClient, downloader, folderURL, cfg.DownloadDir, cfg.StatePath,
				syncer.WithLogger(slog.Default()),
				syncer.WithKBTrigger(trigger),
				syncer.WithDryRun(cmd.Bool("dry-run")))

			results := s.Sync(ctx)
			displaySyncResults(results, cmd.Bool("dry-run"))

			if !results.OK() {
				return apperrors.ErrSyncIncomplete
			}

			return nil
		},
	}
}

// statusCommand creates the status subcommand.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync state and tracked files",
		Flags: []cli.Flag{
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			cfg := config.Get()

			state := syncer.LoadState(cfg.StatePath, slog.Default())
			displayState(state, cfg.StatePath, cfg.DownloadDir)

			return nil
		},
	}
}

// authCommand creates the auth subcommand for the OAuth bootstrap.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to Google Drive and store the OAuth token",
		Flags: []cli.Flag{
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd)
			return ctx, nil
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := config.Get()
			auth := drive.NewAuthenticator(cfg.CredentialsPath, cfg.TokenPath)

			url, err := auth.AuthorizeURL()
			if err != nil {
				return fmt.Errorf("build authorization URL: %w", err)
			}

			code, err := promptAuthCode(url)
			if err != nil {
				return err
			}

			if err := auth.Exchange(ctx, code); err != nil {
				return fmt.Errorf("exchange code: %w", err)
			}

			displayAuthSuccess(cfg.TokenPath)

			return nil
		},
	}
}

// kbCommand creates the kb subcommand group.
func kbCommand() *cli.Command {
	return &cli.Command{
		Name:  "kb",
		Usage: "Manage the RAGFlow knowledge base",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create the dataset and upload all local documents",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Delete and recreate the dataset if it already exists",
					},
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					initializer, err := setupInitializer()
					if err != nil {
						return err
					}

					metrics, err := initializer.Initialize(ctx, cmd.Bool("force"))
					if err != nil {
						return fmt.Errorf("initialize knowledge base: %w", err)
					}

					displayKBMetrics(metrics)

					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Incrementally reconcile local documents with the dataset",
				Flags: []cli.Flag{
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(ctx context.Context, _ *cli.Command) error {
					initializer, err := setupInitializer()
					if err != nil {
						return err
					}

					stats, err := initializer.Sync(ctx)
					if err != nil {
						return fmt.Errorf("sync knowledge base: %w", err)
					}

					displayKBSyncStats(stats)

					return nil
				},
			},
		},
	}
}

// chatCommand creates the chat subcommand group over the session store.
func chatCommand() *cli.Command {
	userFlag := &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "User ID",
	}
	chatFlag := &cli.StringFlag{
		Name:    "chat",
		Aliases: []string{"c"},
		Usage:   "Chat ID",
	}

	return &cli.Command{
		Name:  "chat",
		Usage: "Inspect stored user chats and feedback",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List users, or the chats of one user",
				Flags: []cli.Flag{
					userFlag,
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					// Local reads only, no assistant needed.
					manager := session.NewManager(nil, "", config.Get().UserDataDir)

					userID := cmd.String("user")
					if userID == "" {
						displayUserList(manager.ListUsers())
						return nil
					}

					displayChatList(userID, manager.ListChats(userID))

					return nil
				},
			},
			{
				Name:  "export",
				Usage: "Export one chat with its feedback as JSON",
				Flags: []cli.Flag{
					userFlag,
					chatFlag,
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout",
					},
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					userID, chatID, err := requireUserAndChat(cmd)
					if err != nil {
						return err
					}

					manager := session.NewManager(nil, "", config.Get().UserDataDir)

					data, err := manager.Export(userID, chatID)
					if err != nil {
						return fmt.Errorf("export chat: %w", err)
					}

					output := cmd.String("output")
					if output == "" {
						fmt.Println(string(data)) //nolint:forbidigo // CLI user output
						return nil
					}

					if err := os.WriteFile(output, data, 0o600); err != nil {
						return fmt.Errorf("write export: %w", err)
					}
					slog.Info("chat exported", "user_id", userID, "chat_id", chatID, "path", output)

					return nil
				},
			},
			{
				Name:  "feedback",
				Usage: "Show the feedback summary of one chat",
				Flags: []cli.Flag{
					userFlag,
					chatFlag,
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					userID, chatID, err := requireUserAndChat(cmd)
					if err != nil {
						return err
					}

					manager := session.NewManager(nil, "", config.Get().UserDataDir)

					summary, err := manager.Summarize(userID, chatID)
					if err != nil {
						return fmt.Errorf("summarize feedback: %w", err)
					}

					displayFeedbackSummary(userID, chatID, summary)

					return nil
				},
			},
			{
				Name:      "send",
				Usage:     "Send a question to the assistant within a chat",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					userFlag,
					chatFlag,
					&cli.StringFlag{
						Name:    "assistant",
						Usage:   "RAGFlow chat assistant name",
						Value:   defaultAssistantName,
						Sources: cli.EnvVars("RAGFLOW_ASSISTANT_NAME"),
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Title for a new chat when --chat is omitted",
						Value: "New chat",
					},
					verboseFlag,
				},
				Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
					setupLogging(cmd)
					return ctx, nil
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return apperrors.ErrQuestionRequired
					}
					question := strings.Join(cmd.Args().Slice(), " ")

					userID := cmd.String("user")
					if userID == "" {
						return apperrors.ErrUserIDRequired
					}

					cfg := config.Get()
					client, err := setupRAGFlowClient(cfg)
					if err != nil {
						return err
					}

					assistant, err := client.FindChat(ctx, cmd.String("assistant"))
					if err != nil {
						return fmt.Errorf("find assistant: %w", err)
					}

					manager := session.NewManager(client, assistant.ID, cfg.UserDataDir,
						session.WithLogger(slog.Default()))

					chatID := cmd.String("chat")
					if chatID == "" {
						chat, createErr := manager.CreateChat(ctx, userID, cmd.String("title"))
						if createErr != nil {
							return fmt.Errorf("create chat: %w", createErr)
						}
						chatID = chat.ChatID
					}

					reply, err := manager.SendMessage(ctx, userID, chatID, question)
					if err != nil {
						return fmt.Errorf("send message: %w", err)
					}

					displayAnswer(chatID, reply)

					return nil
				},
			},
		},
	}
}

// requireUserAndChat extracts the mandatory --user and --chat flags.
func requireUserAndChat(cmd *cli.Command) (string, string, error) {
	userID := cmd.String("user")
	if userID == "" {
		return "", "", apperrors.ErrUserIDRequired
	}

	chatID := cmd.String("chat")
	if chatID == "" {
		return "", "", apperrors.ErrChatIDRequired
	}

	return userID, chatID, nil
}

// setupDriveClient builds an authenticated Drive client from the config.
func setupDriveClient(ctx context.Context, cfg *config.Config) (*drive.Client, error) {
	auth := drive.NewAuthenticator(cfg.CredentialsPath, cfg.TokenPath)

	httpClient, err := auth.HTTPClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	client, err := drive.NewClient(ctx,
		drive.WithHTTPClient(httpClient),
		drive.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}

	return client, nil
}

// setupRAGFlowClient builds a RAGFlow client from the config.
func setupRAGFlowClient(cfg *config.Config) (*ragflow.Client, error) {
	client, err := ragflow.NewClient(cfg.RAGFlowAPIKey,
		ragflow.WithBaseURL(cfg.RAGFlowBaseURL),
		ragflow.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("create ragflow client: %w", err)
	}

	return client, nil
}

// setupInitializer builds the knowledge-base initializer from the config.
func setupInitializer() (*kb.Initializer, error) {
	cfg := config.Get()

	client, err := setupRAGFlowClient(cfg)
	if err != nil {
		return nil, err
	}

	return kb.New(client, cfg.DownloadDir, kb.WithLogger(slog.Default())), nil
}

// promptAuthCode prints the authorization URL and reads the pasted code.
//
//nolint:forbidigo // CLI user interaction
func promptAuthCode(url string) (string, error) {
	fmt.Println("Open the following URL in your browser and authorize access:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()
	fmt.Print("Paste the authorization code here: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read authorization code: %w", err)
	}

	code := strings.TrimSpace(line)
	if code == "" {
		return "", apperrors.ErrAuthentication
	}

	return code, nil
}
