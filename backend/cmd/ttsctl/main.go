package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"chorus/backend/internal/jobs"
	"chorus/backend/pkg/config"

	"github.com/bytedance/sonic"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

// queueClient is the subset of the job queue the CLI drives
type queueClient interface {
	Enqueue(ctx context.Context, p jobs.Payload) (*asynq.TaskInfo, error)
	Status(id string) (*jobs.TaskStatus, error)
	Stats() (*jobs.QueueStats, error)
	Close() error
}

type redisQueue struct {
	*jobs.Enqueuer
	inspector *jobs.Inspector
}

func (q *redisQueue) Status(id string) (*jobs.TaskStatus, error) { return q.inspector.Status(id) }

func (q *redisQueue) Stats() (*jobs.QueueStats, error) { return q.inspector.Stats() }

func (q *redisQueue) Close() error {
	_ = q.inspector.Close()
	return q.Enqueuer.Close()
}

// openQueue connects using the same environment as the bot
func openQueue() (queueClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rc := jobs.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	return &redisQueue{
		Enqueuer:  jobs.NewEnqueuer(rc, cfg.TTSQueue),
		inspector: jobs.NewInspector(rc, cfg.TTSQueue),
	}, nil
}

func main() {
	if err := newRootCmd(openQueue).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open func() (queueClient, error)) *cobra.Command {
	root := &cobra.Command{
		Use:   "ttsctl",
		Short: "Submit and inspect voice worker TTS jobs",
		Long: `ttsctl talks to the voice worker's job queue. Jobs are picked up by the
bot and spoken in the guild's connected voice channel.`,
		SilenceUsage: true,
	}

	root.AddCommand(newEnqueueCmd(open), newStatusCmd(open), newStatsCmd(open))
	return root
}

func newEnqueueCmd(open func() (queueClient, error)) *cobra.Command {
	var guildID, voice string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "enqueue [text]",
		Short: "Queue text to be spoken in a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			info, err := q.Enqueue(ctx, jobs.Payload{GuildID: guildID, Text: args[0], Voice: voice})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s on %s\n", info.ID, info.Queue)
			return nil
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild to speak in")
	cmd.Flags().StringVarP(&voice, "voice", "v", "", "voice name (provider default when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the queue")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func newStatusCmd(open func() (queueClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show the state of a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return err
			}
			defer q.Close()

			st, err := q.Status(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newStatsCmd(open func() (queueClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return err
			}
			defer q.Close()

			stats, err := q.Stats()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
