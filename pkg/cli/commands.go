package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func newMigratePasswordsCommand() *Command {
	return &Command{
		Name:        "migrate-passwords",
		Description: "Hash legacy plaintext passwords with bcrypt",
		Run:         runMigratePasswords,
	}
}

func runMigratePasswords(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("migrate-passwords", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)
	dryRun := flags.Bool("dry-run", false, "Only count legacy passwords")
	cost := flags.Int("cost", 0, "bcrypt cost (0 uses the default)")

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		report, err := auth.MigrateLegacyPasswords(ctx, store, auth.NewPasswordHasher(*cost), *dryRun, env.Logger)
		if err != nil {
			return err
		}

		if *dryRun {
			fmt.Fprintf(env.Out, "%d legacy passwords found (dry run)\n", report.Found)
			return nil
		}
		fmt.Fprintf(env.Out, "%d legacy passwords found, %d migrated\n", report.Found, report.Migrated)
		if len(report.Failed) > 0 {
			return fmt.Errorf("failed to migrate %d accounts: %s", len(report.Failed), strings.Join(report.Failed, ", "))
		}
		return nil
	})
}

func newCreateAccountCommand() *Command {
	return &Command{
		Name:        "create-account",
		Description: "Create an account",
		Run:         runCreateAccount,
	}
}

func runCreateAccount(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("create-account", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)
	username := flags.String("username", "", "Account username")
	password := flags.String("password", envOr("GATEHOUSE_ADMIN_PASSWORD", ""), "Account password")
	cost := flags.Int("cost", 0, "bcrypt cost (0 uses the default)")
	grants := flags.String("grant", "", "Comma-separated permissions to grant")

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		if strings.TrimSpace(*username) == "" {
			return fmt.Errorf("-username is required")
		}
		if *password == "" {
			return fmt.Errorf("-password is required")
		}

		permissions, err := parsePermissions(*grants)
		if err != nil {
			return err
		}

		hash, err := auth.NewPasswordHasher(*cost).Hash(*password)
		if err != nil {
			return err
		}
		if err := store.CreateAccount(ctx, *username, hash); err != nil {
			return err
		}
		for _, p := range permissions {
			if err := store.SetPermission(ctx, *username, p, true); err != nil {
				return err
			}
		}

		fmt.Fprintf(env.Out, "created account %s\n", *username)
		return nil
	})
}

func newGrantCommand() *Command {
	return &Command{
		Name:        "grant",
		Description: "Grant or deny a permission",
		Run:         runGrant,
	}
}

func runGrant(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("grant", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)
	username := flags.String("username", "", "Account username")
	permission := flags.String("permission", "", "Permission name")
	deny := flags.Bool("deny", false, "Deny instead of grant")

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		p, err := rbac.ParsePermission(*permission)
		if err != nil {
			return err
		}
		if err := store.SetPermission(ctx, *username, p, !*deny); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s %s=%t\n", *username, p, !*deny)
		return nil
	})
}

func newPermissionsCommand() *Command {
	return &Command{
		Name:        "permissions",
		Description: "Show an account's permissions",
		Run:         runPermissions,
	}
}

func runPermissions(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("permissions", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)
	username := flags.String("username", "", "Account username")

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		account, err := store.GetAccount(ctx, *username)
		if err != nil {
			return err
		}
		grants, err := store.ListPermissions(ctx, account.Username, true)
		if err != nil {
			return err
		}

		fmt.Fprintf(env.Out, "%s (arrested=%t)\n", account.Username, account.Arrested)
		for _, p := range rbac.SortedPermissions(grants) {
			fmt.Fprintf(env.Out, "  %-16s %t\n", p, grants[p])
		}
		return nil
	})
}

func newArrestCommand() *Command {
	return &Command{
		Name:        "arrest",
		Description: "Arrest or release an account",
		Run:         runArrest,
	}
}

func runArrest(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("arrest", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)
	username := flags.String("username", "", "Account username")
	release := flags.Bool("release", false, "Clear the arrested flag")

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		if err := store.SetArrested(ctx, *username, !*release); err != nil {
			return err
		}
		if *release {
			fmt.Fprintf(env.Out, "released %s\n", *username)
		} else {
			fmt.Fprintf(env.Out, "arrested %s\n", *username)
		}
		return nil
	})
}

func newPurgeSessionsCommand() *Command {
	return &Command{
		Name:        "purge-sessions",
		Description: "Delete expired sessions",
		Run:         runPurgeSessions,
	}
}

func runPurgeSessions(ctx context.Context, env *Env, args []string) error {
	flags := flag.NewFlagSet("purge-sessions", flag.ContinueOnError)
	flags.SetOutput(env.Out)
	storeCfg := storageFlags(flags)

	return withStore(ctx, env, flags, args, storeCfg, func(store Store) error {
		n, err := store.PurgeExpiredSessions(ctx, env.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "purged %d expired sessions\n", n)
		return nil
	})
}

func parsePermissions(list string) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := rbac.ParsePermission(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
