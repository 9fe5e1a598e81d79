package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/replybridge/internal/logging"
	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/internal/version"
	"github.com/hrygo/replybridge/server"
	"github.com/hrygo/replybridge/server/controller"
	"github.com/hrygo/replybridge/store"
	"github.com/hrygo/replybridge/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "replybridge",
	Short: "Watches desktop chat conversations and answers them with an LLM, automatically or as suggestions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Systemd units provide their environment through EnvironmentFile.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		logging.Setup(os.Stderr, viper.GetString("mode"), logging.ParseLevel(viper.GetString("log-level")))
		return nil
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), terminationSignals...)
		defer stop()

		st, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer st.Close()

		monitor, _ := cmd.Flags().GetStringSlice("monitor")
		s := server.NewServer(p, st, server.Options{Tenant: viper.GetString("tenant")})
		printGreetings(p, monitor)
		return s.Run(ctx, monitor)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the AI reply configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the AI configuration with the credential masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.GetAIConfig(ctx))
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update selected fields of the AI configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		update, err := configUpdateFromFlags(cmd)
		if err != nil {
			return err
		}
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.UpdateAIConfig(ctx, update))
		})
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the AI configuration and fall back to defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.DeleteAIConfig(ctx))
		})
	},
}

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review stored reply suggestions",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List suggestions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.ListReplySuggestions(ctx, name, limit))
		})
	},
}

var suggestionsUseCmd = &cobra.Command{
	Use:   "use ID",
	Short: "Mark a suggestion as used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid suggestion id %q", args[0])
		}
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.MarkSuggestionUsed(ctx, id))
		})
	},
}

var suggestionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete suggestions older than a given age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.PruneReplySuggestions(ctx, olderThan))
		})
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List known contacts and their monitoring state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.ListContacts(ctx, kind))
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear stored conversation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print one page of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		perPage, _ := cmd.Flags().GetInt("per-page")
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.GetMessages(ctx, args[0], page, perPage))
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear NAME",
	Short: "Delete the stored messages and suggestions of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd.Context(), func(ctx context.Context, c *controller.Controller) error {
			return printResult(c.ClearChatMessages(ctx, args[0]))
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("log-level", "info")

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of the bridge, can be "prod" or "dev" or "demo"`)
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver (sqlite, postgres)")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("bridge-url", "", "base URL of the chat automation sidecar")
	flags.String("bridge-api-key", "", "api key expected by the automation sidecar")
	flags.String("secret-key", "", "key encrypting stored AI credentials (16+ characters)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	flags.String("tenant", "", "tenant used before the chat account is known")
	flags.Int("queue-size", 0, "capacity of the message queue")
	flags.String("llm-base-url", "", "primary OpenAI-compatible endpoint")
	flags.StringSlice("llm-fallback-urls", nil, "endpoints tried in order when the primary fails")
	flags.Float64("send-rate", 0, "outbound messages per second")
	flags.Int("send-burst", 0, "outbound message burst")
	flags.Int("history-load-attempts", 0, "history pages loaded per refresh")

	for _, key := range []string{
		"mode", "log-level", "data", "driver", "dsn", "bridge-url", "bridge-api-key", "secret-key",
		"metrics-addr", "tenant", "queue-size", "llm-base-url", "llm-fallback-urls", "send-rate",
		"send-burst", "history-load-attempts",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("replybridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	serveCmd.Flags().StringSlice("monitor", nil, "conversation to start monitoring (repeatable)")

	configSetCmd.Flags().String("api-key", "", "API key of the generation service")
	configSetCmd.Flags().String("base-url", "", "endpoint overriding the default")
	configSetCmd.Flags().String("model", "", "model name")
	configSetCmd.Flags().Float64("temperature", store.DefaultTemperature, "sampling temperature (0-2)")
	configSetCmd.Flags().Int("max-tokens", store.DefaultMaxTokens, "max tokens per reply")
	configSetCmd.Flags().String("system-prompt", "", "system prompt")
	configSetCmd.Flags().String("user-prompt", "", "text prepended to every customer message")
	configSetCmd.Flags().Bool("auto-reply", false, "send replies instead of storing suggestions")

	suggestionsListCmd.Flags().Int("limit", 20, "maximum suggestions to list")
	suggestionsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of the oldest suggestion to keep")
	contactsCmd.Flags().String("kind", "", "only list contacts of this kind (friend, group)")
	historyShowCmd.Flags().Int("page", 1, "page number, 1 is the newest")
	historyShowCmd.Flags().Int("per-page", controller.DefaultPerPage, "messages per page")

	configCmd.AddCommand(configShowCmd, configSetCmd, configDeleteCmd)
	suggestionsCmd.AddCommand(suggestionsListCmd, suggestionsUseCmd, suggestionsPruneCmd)
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
	rootCmd.AddCommand(serveCmd, configCmd, suggestionsCmd, contactsCmd, historyCmd, versionCmd)
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:                viper.GetString("mode"),
		Data:                viper.GetString("data"),
		Driver:              viper.GetString("driver"),
		DSN:                 viper.GetString("dsn"),
		Version:             version.String(),
		BridgeURL:           viper.GetString("bridge-url"),
		BridgeAPIKey:        viper.GetString("bridge-api-key"),
		SecretKey:           viper.GetString("secret-key"),
		MetricsAddr:         viper.GetString("metrics-addr"),
		QueueSize:           viper.GetInt("queue-size"),
		LLMBaseURL:          viper.GetString("llm-base-url"),
		LLMFallbackURLs:     viper.GetStringSlice("llm-fallback-urls"),
		SendRate:            viper.GetFloat64("send-rate"),
		SendBurst:           viper.GetInt("send-burst"),
		HistoryLoadAttempts: viper.GetInt("history-load-attempts"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return p, nil
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		printDatabaseError(err, p)
		return nil, err
	}
	st, err := store.New(driver, p)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return st, nil
}

// withController runs fn against an offline controller; nothing connects to
// the chat client.
func withController(ctx context.Context, fn func(context.Context, *controller.Controller) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := loadProfile()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	defer st.Close()

	c := controller.New(st, server.ControllerConfig(p, nil, viper.GetString("tenant")), nil, slog.Default())
	defer func() { _ = c.Shutdown(ctx) }()
	return fn(ctx, c)
}

func configUpdateFromFlags(cmd *cobra.Command) (*controller.AIConfigUpdate, error) {
	f := cmd.Flags()
	update := &controller.AIConfigUpdate{}
	changed := false
	str := func(name string, dst **string) {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = &v
			changed = true
		}
	}
	str("api-key", &update.APIKey)
	str("base-url", &update.BaseURL)
	str("model", &update.Model)
	str("system-prompt", &update.SystemPrompt)
	str("user-prompt", &update.UserPrompt)
	if f.Changed("temperature") {
		v, _ := f.GetFloat64("temperature")
		update.Temperature = &v
		changed = true
	}
	if f.Changed("max-tokens") {
		v, _ := f.GetInt("max-tokens")
		update.MaxTokens = &v
		changed = true
	}
	if f.Changed("auto-reply") {
		v, _ := f.GetBool("auto-reply")
		update.AutoReplyEnabled = &v
		changed = true
	}
	if !changed {
		return nil, errors.New("no fields to update")
	}
	return update, nil
}

func printResult(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if r, ok := v.(interface{ OK() bool }); ok && !r.OK() {
		return errors.New("operation failed")
	}
	return nil
}

func printGreetings(p *profile.Profile, monitor []string) {
	fmt.Printf("ReplyBridge %s started\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
	}
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Automation bridge: %s\n", p.BridgeURL)
	if p.MetricsAddr != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", strings.TrimPrefix(p.MetricsAddr, "http://"))
	}
	if len(monitor) > 0 {
		fmt.Printf("Monitoring: %s\n", strings.Join(monitor, ", "))
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError explains common database connection failures.
func printDatabaseError(err error, p *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		fmt.Fprintln(os.Stderr, "PostgreSQL is not reachable. Start it or use SQLite:")
		fmt.Fprintln(os.Stderr, "  REPLYBRIDGE_DRIVER=sqlite  or  replybridge --driver=sqlite --data=./data")
	case strings.Contains(msg, "sslmode") || strings.Contains(msg, "SSL is not enabled"):
		fmt.Fprintln(os.Stderr, "PostgreSQL SSL mismatch. Add ?sslmode=disable to the DSN.")
	case strings.Contains(msg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "PostgreSQL authentication failed. Check the credentials in the DSN.")
	case strings.Contains(msg, "does not exist"):
		fmt.Fprintln(os.Stderr, "Database does not exist. Create it first.")
	default:
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}
	if p.Driver == "sqlite" {
		fmt.Fprintf(os.Stderr, "SQLite file: %s\n", p.DSN)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
