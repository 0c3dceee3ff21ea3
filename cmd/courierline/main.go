package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"courierline/internal/app"
	"courierline/internal/broker/kafka"
	"courierline/internal/config"
	"courierline/internal/domain"
	"courierline/internal/events"
	"courierline/internal/logger"
	"courierline/internal/migrate"
	"courierline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "courierline",
	Short: "Courierline CLI",
	Long: `Courierline manages deliveries across branches.
Core concepts:
- Branch: a depot. Everything except super admins belongs to exactly one.
- Product / Shipment: the things a courier carries. A shipment has a public tracking number.
- Delivery task: one product or one shipment assigned to one delivery user.
  Tasks move assigned -> in_progress -> completed; assigned or in_progress tasks can be cancelled.
- History: every task status change and every shipment status change is appended and never rewritten.
Commands act as the user given by --as (or COURIERLINE_AS).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("COURIERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "courierline.yml", "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("as", 0, "user id to act as")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (overrides config)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(branchCmd())
	rootCmd.AddCommand(locationCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(shipmentCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(eventsCmd())
}

// loadConfig reads the config file and layers COURIERLINE_* env vars and flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"database.driver":  &cfg.Database.Driver,
		"database.dsn":     &cfg.Database.DSN,
		"database.path":    &cfg.Database.Path,
		"server.addr":      &cfg.Server.Addr,
		"server.base_path": &cfg.Server.BasePath,
		"auth.jwt_secret":  &cfg.Auth.JWTSecret,
		"redis.addr":       &cfg.Redis.Addr,
		"kafka.topic":      &cfg.Kafka.Topic,
		"logging.mode":     &cfg.Logging.Mode,
		"bootstrap.email":  &cfg.Bootstrap.Email,
		"bootstrap.name":   &cfg.Bootstrap.Name,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	if v := viper.GetString("bootstrap.password"); v != "" {
		cfg.Bootstrap.Password = v
	}
	if v := strings.TrimSpace(viper.GetString("kafka.brokers")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if viper.IsSet("auth.allow_legacy_headers") {
		cfg.Auth.AllowLegacyHeaders = viper.GetBool("auth.allow_legacy_headers")
	}
	return cfg, cfg.Validate()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (COURIERLINE_AUTH_JWT_SECRET) is required for bearer auth")
			}
			log, err := logger.New(cfg.Logging.Mode)
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				log.Info("serving courierline api", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				log.Info("shutting down")
				return srv.Shutdown(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"driver": a.Config.Database.Driver, "version": v})
				}
				fmt.Printf("Schema at version %d (%s)\n", v, a.Config.Database.Driver)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			if cfg.Bootstrap.Password != "" {
				cfg.Bootstrap.Password = "********"
			}
			return printJSON(cfg)
		},
	}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative setup",
	}
	var email, password, name, envFile string
	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first super admin and a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if email == "" {
					email = a.Config.Bootstrap.Email
				}
				if password == "" {
					password = a.Config.Bootstrap.Password
				}
				if name == "" {
					name = a.Config.Bootstrap.Name
				}
				u, created, err := a.Engine.EnsureSuperAdmin(ctx, name, email, password)
				if err != nil {
					return err
				}
				if !created {
					fmt.Println("A super admin already exists; nothing to do.")
				} else {
					fmt.Printf("Created super admin %s (id %d)\n", u.Email, u.ID)
				}
				if a.Config.Auth.JWTSecret == "" && envFile != "" {
					buf := make([]byte, 32)
					if _, err := rand.Read(buf); err != nil {
						return err
					}
					if err := setEnvValue(envFile, "COURIERLINE_AUTH_JWT_SECRET", hex.EncodeToString(buf)); err != nil {
						return err
					}
					fmt.Printf("Wrote COURIERLINE_AUTH_JWT_SECRET to %s\n", envFile)
				}
				return nil
			})
		},
	}
	bootstrap.Flags().StringVar(&email, "email", "", "super admin email")
	bootstrap.Flags().StringVar(&password, "password", "", "super admin password")
	bootstrap.Flags().StringVar(&name, "name", "", "super admin name")
	bootstrap.Flags().StringVar(&envFile, "env-file", ".env", "where to store a generated JWT secret (empty to skip)")
	cmd.AddCommand(bootstrap)
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the --as user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				u, err := a.Engine.Repo.GetUserByID(ctx, c.UserID)
				if err != nil {
					return err
				}
				if ttl == 0 {
					ttl = time.Duration(a.Config.Auth.TokenTTLMinutes) * time.Minute
				}
				token, exp, err := server.SignToken(a.Config.Auth.JWTSecret, u, ttl, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Manage API keys of the --as user",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				raw, key, err := a.Engine.CreateAPIKey(ctx, c, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": raw, "api_key": key})
				}
				fmt.Printf("%s\n(id %s; store it now, it is not shown again)\n", raw, key.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, c.UserID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, c.UserID, args[0])
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Lifecycle messages on Kafka",
	}
	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print lifecycle messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("kafka.brokers (COURIERLINE_KAFKA_BROKERS) is not configured")
			}
			c := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, group)
			defer c.Close()
			err = c.Consume(cmd.Context(), func(key, value []byte) error {
				if viper.GetBool("json") {
					fmt.Println(string(value))
					return nil
				}
				var m events.Message
				if err := json.Unmarshal(value, &m); err != nil {
					fmt.Fprintf(os.Stderr, "skip malformed message %s: %v\n", key, err)
					return nil
				}
				fmt.Printf("%s  %-26s %s #%d -> %s (branch %d, by %d)\n", m.At, m.Type, m.Entity, m.EntityID, m.Status, m.BranchID, m.ActorID)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&group, "group", "courierline-cli", "consumer group id")
	cmd.AddCommand(tail)
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, logger.Nop())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withCaller resolves --as the same way the HTTP layer resolves credentials.
func withCaller(ctx context.Context, fn func(context.Context, *app.App, domain.Caller) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		id := viper.GetInt64("as")
		if id == 0 {
			return fmt.Errorf("--as <user id> (or COURIERLINE_AS) is required")
		}
		c, err := a.Engine.ResolveCaller(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve user %d: %w", id, err)
		}
		return fn(ctx, a, c)
	})
}

// printJSONOrTable renders a single object as a field/value table.
// Anything that is not a JSON object falls back to JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return printJSON(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := newTable(table.Row{"Field", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, fields[k]})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
