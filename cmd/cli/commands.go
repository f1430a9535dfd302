package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/intranet-sync/internal/advboxsync"
	"github.com/dvloznov/intranet-sync/internal/app"
	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/config"
	"github.com/dvloznov/intranet-sync/internal/gcsarchive"
	"github.com/dvloznov/intranet-sync/internal/infra/postgres"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/dvloznov/intranet-sync/internal/zapi"
	"github.com/urfave/cli/v3"
)

func cmdSync(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the ADVBox financial sync once",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "months", Value: cfg.Sync.DefaultMonths, Usage: "Look-back window in months"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite entries that already exist locally"},
			&cli.BoolFlag{Name: "until-done", Usage: "Keep invoking the sync while it ends partial"},
			&cli.IntFlag{Name: "max-runs", Value: cfg.Sync.MaxContinues, Usage: "Upper bound on invocations with --until-done"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			services, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			params := advboxsync.Params{
				Months:      cmd.Int("months"),
				ForceUpdate: cmd.Bool("force"),
				Actor:       auth.System(),
			}

			runs := 1
			if cmd.Bool("until-done") {
				runs = max(cmd.Int("max-runs"), 1)
			}

			for i := 0; i < runs; i++ {
				summary, err := services.Syncer.Run(ctx, params)
				if summary != nil {
					if perr := printJSON(cmd.Root().Writer, summary); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
				if summary == nil || !summary.Partial || summary.Cancelled || summary.Throttled {
					return nil
				}
			}
			return nil
		},
	}
}

func cmdStatus(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the persisted financial sync status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			services, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			status, err := services.Syncer.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, status)
		},
	}
}

func cmdStop(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Mark a running financial sync as stopped",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			services, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			// Runs owned by other processes are not signalled; their row is
			// released so the next invocation resumes from the saved offset.
			if _, err := services.Syncer.Stop(ctx, auth.System()); err != nil {
				return err
			}
			status, err := services.Syncer.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, status)
		},
	}
}

func cmdClassify() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a Z-API webhook payload without storing it",
		ArgsUsage: "[file]  (reads stdin when omitted)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var (
				raw []byte
				err error
			)
			if path := cmd.Args().First(); path != "" {
				raw, err = os.ReadFile(path)
			} else {
				raw, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			ev, err := zapi.Classify(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, ev)
		},
	}
}

func cmdToken(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "Subject user id"},
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "role", Usage: "Set to admin to bypass feature permissions"},
			&cli.StringSliceFlag{Name: "perm", Usage: "feature=level, e.g. financial=edit (repeatable)"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			perms, err := parsePermissions(cmd.StringSlice("perm"))
			if err != nil {
				return err
			}

			id := &auth.Identity{
				UserID:      cmd.String("user"),
				Email:       cmd.String("email"),
				Role:        cmd.String("role"),
				Permissions: perms,
			}
			token, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(id, cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, token)
			return err
		},
	}
}

func cmdMigratePostgres(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate-postgres",
		Usage: "Apply the embedded Postgres migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Sources: cli.EnvVars("DATABASE_URL"),
				Usage:   "PostgreSQL connection string; DB_* settings are used when empty",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dsn := cmd.String("database-url")
			if dsn == "" {
				dsn = cfg.Store.Database.GetDSN()
			}

			st, err := postgres.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Migrate(ctx)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			log.Info().Int("applied", n).Msg("Postgres schema is up to date")
			return nil
		},
	}
}

func cmdArchive(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Inspect raw ADVBox pages archived in Cloud Storage",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print an archived page",
				ArgsUsage: "<gs://bucket/object | run-id offset>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					gcs, err := gcsarchive.NewGCSStorageService(ctx)
					if err != nil {
						return err
					}
					defer gcs.Close()

					archiver := gcsarchive.New(gcs, cfg.Archive.Bucket, cfg.Archive.Prefix)
					uri, err := archiveURI(archiver, cfg.Archive.Bucket, cmd.Args().Slice())
					if err != nil {
						return err
					}

					data, err := archiver.Fetch(ctx, uri)
					if err != nil {
						return err
					}
					_, err = cmd.Root().Writer.Write(append(data, '\n'))
					return err
				},
			},
		},
	}
}

// archiveURI accepts either a full gs:// URI or a run id and page offset.
func archiveURI(a *gcsarchive.Archiver, bucket string, args []string) (string, error) {
	switch {
	case len(args) == 1 && strings.HasPrefix(args[0], "gs://"):
		return args[0], nil
	case len(args) == 2:
		if bucket == "" {
			return "", fmt.Errorf("ARCHIVE_BUCKET is not set")
		}
		var offset int
		if _, err := fmt.Sscanf(args[1], "%d", &offset); err != nil {
			return "", fmt.Errorf("invalid offset %q", args[1])
		}
		return a.URI(args[0], offset), nil
	}
	return "", fmt.Errorf("expected a gs:// URI or <run-id> <offset>")
}

// parsePermissions reads feature=level pairs.
func parsePermissions(pairs []string) (map[string]auth.Level, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	perms := make(map[string]auth.Level, len(pairs))
	for _, p := range pairs {
		feature, level, ok := strings.Cut(p, "=")
		if !ok || feature == "" {
			return nil, fmt.Errorf("invalid permission %q, want feature=level", p)
		}
		switch l := auth.Level(strings.ToLower(level)); l {
		case auth.LevelNone, auth.LevelView, auth.LevelEdit:
			perms[feature] = l
		default:
			return nil, fmt.Errorf("invalid level %q for %s", level, feature)
		}
	}
	return perms, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
