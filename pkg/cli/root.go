package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the admin commands operate on.
type Store interface {
	auth.LegacyAccountStore
	CreateAccount(ctx context.Context, username, passwordHash string) error
	GetAccount(ctx context.Context, username string) (*auth.Account, error)
	SetArrested(ctx context.Context, username string, arrested bool) error
	SetPermission(ctx context.Context, username string, permission rbac.Permission, allowed bool) error
	ListPermissions(ctx context.Context, username string, fill bool) (map[rbac.Permission]bool, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// Connector opens a Store for the given storage settings.
type Connector func(ctx context.Context, cfg storage.Config) (Store, error)

// Env is shared by every command.
type Env struct {
	Out     io.Writer
	Connect Connector
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env, args []string) error
	Subcommands map[string]*Command
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "gatehouse-admin",
		Description: "Gatehouse account and permission administration",
		Subcommands: make(map[string]*Command),
	}

	for _, cmd := range []*Command{
		newMigratePasswordsCommand(),
		newCreateAccountCommand(),
		newGrantCommand(),
		newPermissionsCommand(),
		newArrestCommand(),
		newPurgeSessionsCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(ctx context.Context, env *Env, args []string) error {
	env = withEnvDefaults(env)

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage(env.Out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, env, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func withEnvDefaults(env *Env) *Env {
	if env == nil {
		env = &Env{}
	}
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Logger == nil {
		env.Logger = logrus.StandardLogger()
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Connect == nil {
		logger := env.Logger
		env.Connect = func(ctx context.Context, cfg storage.Config) (Store, error) {
			return SQLConnector(ctx, cfg, logger)
		}
	}
	return env
}

// SQLConnector opens the configured database, applies migrations, and
// returns a sqlstore.Store.
func SQLConnector(ctx context.Context, cfg storage.Config, logger logrus.FieldLogger) (Store, error) {
	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return sqlstore.New(db, sqlstore.WithLogger(logger)), nil
}

// storageFlags registers -driver and -dsn, defaulting to GATEHOUSE_DB_DRIVER
// and GATEHOUSE_DB_DSN.
func storageFlags(flags *flag.FlagSet) func() storage.Config {
	cfg := storage.DefaultConfig()
	driver := flags.String("driver", envOr("GATEHOUSE_DB_DRIVER", cfg.Driver), "Database driver (sqlite3 or postgres)")
	dsn := flags.String("dsn", envOr("GATEHOUSE_DB_DSN", cfg.DSN), "Database DSN")
	return func() storage.Config {
		cfg.Driver = *driver
		cfg.DSN = *dsn
		return cfg
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// withStore parses flags, connects, and runs fn with the open store.
func withStore(ctx context.Context, env *Env, flags *flag.FlagSet, args []string, storeCfg func() storage.Config, fn func(Store) error) error {
	if err := flags.Parse(args); err != nil {
		return err
	}
	store, err := env.Connect(ctx, storeCfg())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	return fn(store)
}
