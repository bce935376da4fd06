package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deemkeen/stegofed/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           util.Name,
		Short:         "ActivityPub federation server",
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		createActorCmd(),
		resolveCmd(),
		postCmd(),
		followCmd(),
		unfollowCmd(),
		actorsCmd(),
		followersCmd(),
		timelineCmd(),
		notificationsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, HelpStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// withApp loads the configuration, wires the components and runs f.
func withApp(cmd *cobra.Command, f func(ctx context.Context, a *app) error) error {
	conf, err := util.ReadConf()
	if err != nil {
		return err
	}
	util.SetupLogging(conf.Conf.Log.Level, conf.Conf.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, conf)
	if err != nil {
		return err
	}
	defer a.close()
	return f(ctx, a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the federation endpoints and process the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				server := a.server()
				defer server.Close()
				srv := server.HTTPServer()

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					log.Info().Str("addr", srv.Addr).Str("domain", a.conf.Conf.SslDomain).Msg("Starting federation server")
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					return a.runWorkers(ctx)
				})
				g.Go(func() error {
					<-ctx.Done()
					log.Info().Msg("Stopping federation server")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued inbox and delivery messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.runWorkers(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// migrations run while wiring
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fmt.Println(CaptionStyle.Render("Database is up to date (" + a.db.Dialect().Name() + ")"))
				return nil
			})
		},
	}
}

func createActorCmd() *cobra.Command {
	var displayName string

	cmd := &cobra.Command{
		Use:   "create-actor <username>",
		Short: "Register a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				name := displayName
				if name == "" {
					name = args[0]
				}
				actor, err := a.actors.CreateLocal(ctx, args[0], name)
				if err != nil {
					return err
				}
				fmt.Println(renderActor(actor))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&displayName, "name", "n", "", "display name")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url|user@domain>",
		Short: "Fetch and cache a remote actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(renderActor(actor))
				return nil
			})
		},
	}
}

func postCmd() *cobra.Command {
	var inReplyTo string

	cmd := &cobra.Command{
		Use:   "post <username> <text...>",
		Short: "Publish a public note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				note, err := a.outbox.PublishNote(ctx, actor, strings.Join(args[1:], " "), inReplyTo)
				if err != nil {
					return err
				}
				fmt.Println(renderObject(note))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inReplyTo, "reply-to", "", "id of the object replied to")
	return cmd
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <username> <url|user@domain>",
		Short: "Follow an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				target, err := a.resolve(ctx, args[1])
				if err != nil {
					return err
				}
				follow, err := a.outbox.Follow(ctx, actor, target.ID)
				if err != nil {
					return err
				}
				fmt.Println(renderFollow(follow))
				return nil
			})
		},
	}
}

func unfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <username> <url|user@domain>",
		Short: "Stop following an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				target, err := a.resolve(ctx, args[1])
				if err != nil {
					return err
				}
				if err := a.outbox.Unfollow(ctx, actor, target.ID); err != nil {
					return err
				}
				fmt.Println(HelpStyle.Render("Unfollowed " + target.Acct()))
				return nil
			})
		},
	}
}

func actorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actors",
		Short: "List local actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actors, err := a.db.ReadLocalActors(ctx)
				if err != nil {
					return err
				}
				for i := range actors {
					fmt.Println(renderActor(&actors[i]))
				}
				return nil
			})
		},
	}
}

func followersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followers <username>",
		Short: "List follow requests and followers of a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				follows, err := a.db.ReadFollowsByTarget(ctx, actor.ID)
				if err != nil {
					return err
				}
				if len(follows) == 0 {
					fmt.Println(HelpStyle.Render("No followers yet"))
				}
				for i := range follows {
					fmt.Println(renderFollow(&follows[i]))
				}
				return nil
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "timeline <username>",
		Short: "Show the inbox timeline of a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				entries, err := a.db.ReadInbox(ctx, actor.ID, limit)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					obj, err := a.objects.Get(ctx, entry.ObjectID)
					if err != nil {
						log.Warn().Str("object", entry.ObjectID).Err(err).Msg("Skipping timeline entry")
						continue
					}
					fmt.Println(renderObject(obj))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of entries")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "notifications <username>",
		Short: "Show notifications of a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.localActor(ctx, args[0])
				if err != nil {
					return err
				}
				notes, err := a.db.ReadNotifications(ctx, actor.ID, limit)
				if err != nil {
					return err
				}
				for i := range notes {
					fmt.Println(renderNotification(&notes[i]))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of notifications")
	return cmd
}
