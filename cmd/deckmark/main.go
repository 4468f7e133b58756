package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/deckmark/internal"
	"github.com/starford/deckmark/internal/reconcile"
	pkgconfig "github.com/starford/deckmark/pkg/config"
)

func newApp(cmd *cli.Command) (*internal.App, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.Collection.Path = dir
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithPrompter(newPrompter()),
	}

	return internal.New(opts...)
}

func runInit(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	col, err := app.Init(ctx, internal.InitRequest{AutoCommit: !cmd.Bool("no-auto-commit")})
	if err != nil {
		return err
	}
	fmt.Printf("Initialised collection in %s for profile %q\n", col.Root(), col.Marker().Profile)
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	sum, err := app.Import(ctx, internal.ImportRequest{
		File:         cmd.String("file"),
		AdditiveOnly: cmd.Bool("additive-only"),
		Yes:          cmd.Bool("yes"),
		PushMedia:    cmd.Bool("push-media"),
		NoCommit:     cmd.Bool("no-commit"),
	})
	printSummary(os.Stdout, "import", sum)
	return err
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	sum, err := app.Export(ctx, internal.ExportRequest{
		Deck:          cmd.String("deck"),
		KeepOrphans:   cmd.Bool("keep-orphans"),
		DropUntracked: cmd.Bool("drop-untracked"),
		NoCommit:      cmd.Bool("no-commit"),
	})
	printSummary(os.Stdout, "export", sum)
	return err
}

func runSerialize(_ context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	res, err := app.Serialize(internal.SerializeRequest{
		Out:          cmd.String("output"),
		NoIDs:        cmd.Bool("no-ids"),
		IncludeMedia: cmd.Bool("include-media"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Serialized %d decks, %d notes and %d media files to %s\n", res.Decks, res.Notes, res.Media, res.Path)
	return nil
}

func runDeserialize(_ context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("deserialize: a package file is required")
	}
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	res, err := app.Deserialize(internal.DeserializeRequest{File: file, Overwrite: cmd.Bool("overwrite")})
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d deck files (%d notes), %d media files; skipped %d existing\n",
		len(res.Written), res.Notes, res.Media, len(res.Skipped))
	return nil
}

func runHistory(_ context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	runs, err := app.History(int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-6s  %-9s  %s\n", r.StartedAt.Local().Format(time.DateTime), r.Command, r.Status, r.Summary)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
	return nil
}

func printSummary(w io.Writer, command string, sum *reconcile.Summary) {
	if sum == nil {
		return
	}
	for _, f := range sum.Files {
		line := fmt.Sprintf("%s: %s", f.Path, fileCounts(f))
		if f.Renamed != "" {
			line += fmt.Sprintf(" (renamed from %s)", f.Renamed)
		}
		if f.Deleted {
			line += " (deleted)"
		}
		fmt.Fprintln(w, line)
		for _, warn := range f.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
		if f.Err != nil {
			fmt.Fprintf(w, "  error in %s: %v\n", f.Phase, f.Err)
		}
	}
	fmt.Fprintf(w, "%s: %s\n", command, sum.String())
}

func fileCounts(f reconcile.FileResult) string {
	one := reconcile.Summary{Files: []reconcile.FileResult{f}}
	return one.String()
}

func main() {
	cmd := &cli.Command{
		Name:  "deckmark",
		Usage: "Keep Markdown deck files and Anki in sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "deckmark.yaml",
				Value:       "deckmark.yaml",
				Sources:     cli.EnvVars("DECKMARK_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Log at debug level",
				Sources: cli.EnvVars("DECKMARK_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Collection directory (overrides collection.path)",
				Sources: cli.EnvVars("DECKMARK_DIR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Bind the collection directory to the active Anki profile",
				Action: runInit,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-auto-commit", Usage: "Do not snapshot the directory with git before each sync"},
				},
			},
			{
				Name:    "import",
				Aliases: []string{"ma"},
				Usage:   "Push deck files into Anki",
				Action:  runImport,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Import one deck file"},
					&cli.BoolFlag{Name: "additive-only", Usage: "Only create notes that have no note_id"},
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Delete notes of decks without a file without asking"},
					&cli.BoolFlag{Name: "push-media", Usage: "Upload referenced media that changed"},
					&cli.BoolFlag{Name: "no-commit", Aliases: []string{"n"}, Usage: "Skip the git snapshot"},
				},
			},
			{
				Name:    "export",
				Aliases: []string{"am"},
				Usage:   "Rewrite deck files from Anki",
				Action:  runExport,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "deck", Aliases: []string{"d"}, Usage: "Export one deck"},
					&cli.BoolFlag{Name: "keep-orphans", Usage: "Keep files and blocks whose note is gone from Anki"},
					&cli.BoolFlag{Name: "drop-untracked", Usage: "Drop blocks without note_id without asking"},
					&cli.BoolFlag{Name: "no-commit", Aliases: []string{"n"}, Usage: "Skip the git snapshot"},
				},
			},
			{
				Name:   "serialize",
				Usage:  "Write the collection as a portable JSON or zip package",
				Action: runSerialize,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file", Value: "collection.json"},
					&cli.BoolFlag{Name: "no-ids", Usage: "Leave deck and note ids out"},
					&cli.BoolFlag{Name: "include-media", Usage: "Bundle referenced media into a zip"},
				},
			},
			{
				Name:      "deserialize",
				Usage:     "Unpack a package into the collection directory",
				ArgsUsage: "FILE",
				Action:    runDeserialize,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Usage: "Replace existing deck files"},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent import and export runs",
				Action: runHistory,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Number of runs", Value: 20},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
