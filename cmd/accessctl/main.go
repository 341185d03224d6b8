package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/backend"
	"qazna.org/access/internal/config"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/permission"
)

const usage = `usage: accessctl <command> [flags]

commands:
  apply  -f grants.yaml              apply a declarative grant document
  check  --tenant T --user U --permission P [--type T --id I]
  sweep                              delete expired resource grants once
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		obs.Logger().Error("accessctl failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to a TOML config file (default $ACCESS_CONFIG)")
	timeout := fs.Duration("timeout", time.Minute, "Overall deadline")

	var (
		file                   *string
		tenant, user, perm     *string
		resourceType, resource *string
	)
	switch cmd {
	case "apply":
		file = fs.StringP("file", "f", "", "YAML grant document ('-' for stdin)")
	case "check":
		tenant = fs.String("tenant", "", "Tenant id")
		user = fs.String("user", "", "User id")
		perm = fs.String("permission", "", "Permission name, e.g. Read")
		resourceType = fs.String("type", "", "Resource type (omit for a tenant-level check)")
		resource = fs.String("id", "", "Resource id")
	case "sweep":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return err
	}
	logger := obs.NewJSONLogger(os.Stderr, obs.ParseLevel(cfg.LogLevel))
	obs.SetLogger(logger)

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	svc, err := access.NewService(store, backend.ServiceOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	switch cmd {
	case "apply":
		return applyFile(ctx, svc, *file, out)
	case "check":
		return check(ctx, svc, out, *tenant, *user, *perm, access.Resource{Type: *resourceType, ID: *resource})
	default:
		n, err := svc.SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d expired grants\n", n)
		return nil
	}
}

func applyFile(ctx context.Context, svc *access.Service, path string, out io.Writer) error {
	var r io.Reader
	switch path {
	case "":
		return fmt.Errorf("apply: --file is required")
	case "-":
		r = os.Stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	doc, err := ParseDocument(r)
	if err != nil {
		return err
	}
	res, err := Apply(ctx, svc, doc, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d writes applied\n", res.Writes)
	return nil
}

func check(ctx context.Context, svc *access.Service, out io.Writer, tenantID, userID, name string, res access.Resource) error {
	p, err := permission.Parse(name)
	if err != nil {
		return err
	}
	var allowed bool
	if res.Type == "" && res.ID == "" {
		allowed, err = svc.HasTenantPermission(ctx, userID, tenantID, p)
	} else {
		allowed, err = svc.HasResourcePermission(ctx, userID, tenantID, res, p)
	}
	if err != nil {
		return err
	}
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	fmt.Fprintln(out, verdict)
	return nil
}
