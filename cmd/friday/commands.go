package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/server"
	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func run(ctx context.Context, argv []string, w io.Writer) error {
	var f flags

	cmd := &cli.Command{
		Name:   "friday",
		Usage:  "Personal assistant with long-term conversational memory",
		Writer: w,
		Flags:  globalFlags(&f),
		Commands: []*cli.Command{
			serveCommand(&f),
			chatCommand(&f),
			saveCommand(&f),
			recallCommand(&f),
			listCommand(&f),
			pinCommand(&f),
			unpinCommand(&f),
			deleteCommand(&f),
			pinnedCommand(&f),
			forgetCommand(&f),
			compactCommand(&f),
			statsCommand(&f),
			clearCommand(&f),
		},
	}
	return cmd.Run(ctx, argv)
}

// withRuntime wires the application before action and tears it down after.
func withRuntime(f *flags, action func(context.Context, *cli.Command, *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		ctx, rt, err := f.open(ctx)
		if err != nil {
			return err
		}
		defer rt.close(ctx)
		return action(ctx, c, rt)
	}
}

func serveCommand(f *flags) *cli.Command {
	var addr, grpcAddr string

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the WebSocket API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address",
				Sources:     cli.EnvVars("FRIDAY_ADDR", "PORT"),
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "grpc-addr",
				Usage:       "gRPC health listen address; empty disables it",
				Sources:     cli.EnvVars("FRIDAY_GRPC_ADDR"),
				Destination: &grpcAddr,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			if addr == "" {
				addr = rt.config.Server.Addr
			}
			if !strings.Contains(addr, ":") {
				addr = ":" + addr
			}
			if !c.IsSet("grpc-addr") {
				grpcAddr = rt.config.Server.GRPCAddr
			}

			srv, err := server.New(server.Config{
				Engine:   rt.engine,
				GRPCAddr: grpcAddr,
				Logger:   logging.From(ctx),
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx, addr)
		}),
	}
}

func chatCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat interactively. Type 'exit' to quit",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				HistoryFile:     filepath.Join(os.TempDir(), "friday_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start prompt")
			}
			defer rl.Close()

			out := c.Root().Writer
			fmt.Fprintln(out, "Friday is listening. Commands: 'friday: pin <note>', 'friday: forget <text>', 'friday: goals', 'friday: pinned', 'friday: stats'.")

			for ctx.Err() == nil {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}

				if err := chatTurn(ctx, out, rt, line); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
			return nil
		}),
	}
}

// chatTurn shows a spinner until the first reply fragment arrives.
func chatTurn(ctx context.Context, out io.Writer, rt *runtime, line string) error {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " thinking"
	sp.Start()

	var once sync.Once
	started := func() {
		once.Do(func() {
			sp.Stop()
			fmt.Fprint(out, "friday> ")
		})
	}

	reply, err := rt.engine.Chat(ctx, line, func(chunk string) {
		started()
		fmt.Fprint(out, chunk)
	})
	started()
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if reply.Summary != nil {
		fmt.Fprintf(out, "(compacted recent memories into %s)\n", reply.Summary.ID)
	}
	return nil
}

func saveCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Save a message if it passes the admission filter",
		ArgsUsage: "<user|assistant> <text>",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			if c.Args().Len() < 2 {
				return goerr.New("usage: friday save <user|assistant> <text>")
			}
			role, err := core.ParseRole(c.Args().First())
			if err != nil {
				return err
			}

			stored, err := rt.memory.Save(ctx, role, strings.Join(c.Args().Tail(), " "))
			if err != nil {
				return err
			}
			if stored {
				fmt.Fprintln(c.Root().Writer, "saved")
			} else {
				fmt.Fprintln(c.Root().Writer, "not saved: the text did not pass the admission filter")
			}
			return nil
		}),
	}
}

func recallCommand(f *flags) *cli.Command {
	var topK int64

	return &cli.Command{
		Name:      "recall",
		Usage:     "Show the memories most relevant to a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "Number of memories (default from config)",
				Destination: &topK,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return goerr.New("usage: friday recall <query>")
			}

			memories, err := rt.memory.Retrieve(ctx, query, int(topK))
			if err != nil {
				return err
			}
			for _, m := range memories {
				fmt.Fprintln(c.Root().Writer, m.Message().Line())
			}
			return nil
		}),
	}
}

func listCommand(f *flags) *cli.Command {
	var (
		limit int64
		role  string
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List recent memories, oldest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "Maximum number of records; 0 lists all",
				Value:       50,
				Destination: &limit,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "Only list user or assistant records",
				Destination: &role,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			var r core.Role
			if role != "" {
				parsed, err := core.ParseRole(role)
				if err != nil {
					return err
				}
				r = parsed
			}

			records, err := rt.memory.ListRecent(ctx, int(limit), r)
			if err != nil {
				return err
			}
			printRecords(c.Root().Writer, records)
			return nil
		}),
	}
}

func pinCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "Pin a record with an optional note",
		ArgsUsage: "<id> [note]",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("usage: friday pin <id> [note]")
			}
			if err := rt.memory.Pin(ctx, id, strings.Join(c.Args().Tail(), " ")); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "pinned", id)
			return nil
		}),
	}
}

func unpinCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "unpin",
		Usage:     "Remove the pin from a record",
		ArgsUsage: "<id>",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("usage: friday unpin <id>")
			}
			if err := rt.memory.Unpin(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "unpinned", id)
			return nil
		}),
	}
}

func deleteCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a record permanently",
		ArgsUsage: "<id>",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("usage: friday delete <id>")
			}
			if err := rt.memory.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "deleted", id)
			return nil
		}),
	}
}

func pinnedCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "pinned",
		Usage: "List pinned records",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			records, err := rt.memory.ListPinned(ctx)
			if err != nil {
				return err
			}
			printRecords(c.Root().Writer, records)
			return nil
		}),
	}
}

func forgetCommand(f *flags) *cli.Command {
	var topK int64

	return &cli.Command{
		Name:      "forget",
		Usage:     "Delete the records most similar to a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "Number of records to delete (default from config)",
				Destination: &topK,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return goerr.New("usage: friday forget <query>")
			}
			n, err := rt.memory.Forget(ctx, query, int(topK))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "forgot %d similar memories\n", n)
			return nil
		}),
	}
}

func compactCommand(f *flags) *cli.Command {
	var limit int64

	return &cli.Command{
		Name:  "compact",
		Usage: "Summarize the most recent records into one summary record",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "Window size (default from config)",
				Destination: &limit,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			rec, err := rt.memory.Compact(ctx, int(limit))
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(c.Root().Writer, "not enough records to compact")
				return nil
			}
			printRecords(c.Root().Writer, []*memory.Record{rec})
			return nil
		}),
	}
}

func statsCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the number of stored records",
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			n, err := rt.memory.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "%d memories\n", n)
			return nil
		}),
	}
}

func clearCommand(f *flags) *cli.Command {
	var yes bool

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete every record, the embedding cache and the working goals",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "yes",
				Usage:       "Confirm that all memory should be destroyed",
				Destination: &yes,
			},
		},
		Action: withRuntime(f, func(ctx context.Context, c *cli.Command, rt *runtime) error {
			if !yes {
				return goerr.New("refusing to clear memory without --yes")
			}
			if err := rt.memory.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "all memory cleared")
			return nil
		}),
	}
}

func printRecords(w io.Writer, records []*memory.Record) {
	for _, r := range records {
		marker := " "
		if r.Pinned {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s\t%s\t%s\t%s", marker, r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Role, r.Content)
		if r.Kind == memory.KindSummary && len(r.Tags) > 0 {
			line += "\t[" + strings.Join(r.Tags, ", ") + "]"
		}
		if r.PinNote != "" {
			line += "\t(" + r.PinNote + ")"
		}
		fmt.Fprintln(w, line)
	}
}
