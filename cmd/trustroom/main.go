package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trustroom/internal/config"
	"trustroom/internal/db"
	"trustroom/internal/domain"
	"trustroom/internal/engine"
	"trustroom/internal/engine/access"
	"trustroom/internal/identity"
	"trustroom/internal/migrate"
	"trustroom/internal/repo"
	"trustroom/internal/repo/pgstore"
)

var rootCmd = &cobra.Command{
	Use:   "trustroom",
	Short: "Trust room workflow engine",
	Long: `trustroom tracks buyer/agent trust cases through six milestones
(已電聯, 已帶看, 已出價, 已斡旋, 已成交, 已交屋).

- Cases: one per buyer and listing, opened by an agent, shared with the buyer through a guest link.
- Steps: the agent marks a step done, the buyer (or the agent) confirms it; confirming the last step completes the case.
- Dormant cases: a case left alone goes dormant and is woken by its agent, its buyer or the platform.
- Audit log: every change is recorded, view it with 'trustroom log tail <case>'.`,
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
	viper.SetEnvPrefix("TRUSTROOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/trustroom.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

// loadConfig reads the config file and applies TRUSTROOM_* overrides for the
// settings that are usually injected by the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"store_driver":    &cfg.Store.Driver,
		"store_dsn":       &cfg.Store.DSN,
		"auth_jwt_secret": &cfg.Auth.JWTSecret,
		"auth_system_key": &cfg.Auth.SystemKey,
		"server_addr":     &cfg.Server.Addr,
		"log_level":       &cfg.Log.Level,
	}
	for key, dst := range overrides {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if cfg.Store.Workspace == "" || cfg.Store.Workspace == "." {
		cfg.Store.Workspace = viper.GetString("workspace")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// caseStore is what the commands need from either backend.
type caseStore interface {
	engine.CaseStore
	UpsertProperty(ctx context.Context, p domain.Property) error
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config) (caseStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		s, err := pgstore.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		if _, err := db.EnsureWorkspace(cfg.Store.Workspace); err != nil {
			return nil, nil, err
		}
		conn, err := db.Open(db.Config{Workspace: cfg.Store.Workspace})
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return repo.Repo{DB: conn}, func() { conn.Close() }, nil
	}
}

// localCaller holds credentials that only live for this process. Local
// commands act as the system caller, or as a case's agent for agent-only
// operations.
type localCaller struct {
	systemKey string
	secret    string
}

func newLocalCaller() localCaller {
	return localCaller{systemKey: uuid.NewString(), secret: uuid.NewString()}
}

func (l localCaller) system() access.Credentials {
	return access.Credentials{SystemKey: l.systemKey, IP: "local", UserAgent: "trustroom-cli"}
}

func (l localCaller) agent(agentID string) (access.Credentials, error) {
	tok, err := identity.Mint(l.secret, agentID, string(access.RoleAgent), "", time.Minute, time.Now())
	if err != nil {
		return access.Credentials{}, err
	}
	return access.Credentials{Bearer: tok, IP: "local", UserAgent: "trustroom-cli"}, nil
}

// withStore runs fn against the configured store.
func withStore(ctx context.Context, fn func(context.Context, *config.Config, caseStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, cfg, store)
}

// withEngine runs fn against a local engine.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, localCaller) error) error {
	return withStore(ctx, func(ctx context.Context, cfg *config.Config, store caseStore) error {
		caller := newLocalCaller()
		ctl := access.New(caller.systemKey, identity.JWTVerifier{Secret: caller.secret})
		e := engine.New(store, ctl, engine.Options{
			TokenTTL:       cfg.TokenTTL(),
			LinkPath:       cfg.Guest.LinkPath,
			EffectsTimeout: cfg.EffectsTimeout(),
		})
		defer drainDiagnostics(e.Effects, slog.Default())()
		return fn(ctx, e, caller)
	})
}

// drainDiagnostics logs side effect failures as they arrive. The returned
// stop func waits for in-flight effects and flushes the remaining failures.
func drainDiagnostics(fx *engine.Effects, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.Drain(ctx, func(f engine.Failure) {
			logger.Warn("side effect failed", "case_id", f.CaseID, "effect", f.Effect, "error", f.Err,
				"at", f.At, "failed_total", fx.Failed())
		})
	}()
	return func() {
		fx.Wait()
		cancel()
		<-done
	}
}

// wantJSON is true with --json or when stdout is not a terminal.
func wantJSON() bool {
	if viper.GetBool("json") {
		return true
	}
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
