package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniQw/taskstream"
	"github.com/UniQw/taskstream/internal/config"
	"github.com/UniQw/taskstream/internal/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// demoTask is the body published by the publish command and the HTTP API.
type demoTask struct {
	TaskName string         `json:"task_name"`
	Payload  map[string]any `json:"payload"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "taskstream",
		Short:        "Reliable task processing over Redis Streams",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")

	rootCmd.AddCommand(workerCmd(), publishCmd(), statusCmd(), reapCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and opens the Redis connection shared by every command.
func setup(cmd *cobra.Command) (config.Config, *redis.Client, *taskstream.Broker, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, nil, err
	}
	rdb, err := config.Connect(cmd.Context(), cfg.Redis.URL)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	opts := []taskstream.BrokerOption{
		taskstream.WithLogger(cfg.Logger()),
		taskstream.WithStatusTTL(cfg.Status.TTL),
	}
	if cfg.Status.Strict {
		opts = append(opts, taskstream.WithStrictStatus())
	}
	return cfg, rdb, taskstream.NewBroker(rdb, opts...), nil
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the configured streams until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			cfg, rdb, broker, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()
			log := cfg.Logger()

			failOn, _ := cmd.Flags().GetString("fail-task")
			mux := taskstream.NewMux()
			for _, s := range cfg.Streams {
				taskstream.HandleJSON(mux, s.Name, func(ctx context.Context, t demoTask, d *taskstream.Delivery) (any, error) {
					log.Infof("task %s on %s: task_name=%s recovered=%t", d.MessageUUID, d.Stream, t.TaskName, d.Recovered)
					if failOn != "" && t.TaskName == failOn {
						return nil, fmt.Errorf("task %q configured to fail", t.TaskName)
					}
					return gin.H{"task_name": t.TaskName, "processed_at": time.Now().UTC()}, nil
				})
			}

			id := taskstream.NewConsumerIdentity()
			srv := taskstream.NewServer(broker, cfg.ServerConfig(id, log), mux)
			srv.Start()
			defer srv.Stop()
			log.Infof("worker started: identity=%s streams=%v", id, mux.Streams())

			var httpSrv *http.Server
			if cfg.HTTP.Addr != "" {
				gin.SetMode(gin.ReleaseMode)
				r := gin.New()
				r.Use(gin.Recovery())
				maxLens := make(map[string]int64, len(cfg.Streams))
				for _, s := range cfg.Streams {
					maxLens[s.Name] = s.MaxLen
				}
				handler.Register(r, handler.New(broker, rdb, maxLens))
				httpSrv = &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("http server: %v", err)
						stop()
					}
				}()
				log.Infof("http listening on %s", cfg.HTTP.Addr)
			}

			<-ctx.Done()
			log.Infof("signal received; stopping worker...")
			if httpSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().String("fail-task", "", "task_name whose handler always fails (for exercising recovery)")
	return cmd
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one task and print its message UUID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, broker, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()

			stream, _ := cmd.Flags().GetString("stream")
			if stream == "" && len(cfg.Streams) > 0 {
				stream = cfg.Streams[0].Name
			}
			sc, ok := cfg.Stream(stream)
			if !ok {
				return fmt.Errorf("stream %q is not configured", stream)
			}
			name, _ := cmd.Flags().GetString("task-name")
			raw, _ := cmd.Flags().GetString("payload")
			corr, _ := cmd.Flags().GetString("correlation-id")
			wait, _ := cmd.Flags().GetDuration("wait")

			task := demoTask{TaskName: name, Payload: map[string]any{}}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &task.Payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			var opts []taskstream.PublishOption
			if corr != "" {
				opts = append(opts, taskstream.WithCorrelationID(corr))
			}
			if sc.MaxLen > 0 {
				opts = append(opts, taskstream.WithMaxLen(sc.MaxLen))
			}
			id, err := broker.Publish(cmd.Context(), stream, task, opts...)
			if id == "" {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			fmt.Println(id)
			if wait <= 0 {
				return nil
			}
			rec, err := waitTerminal(cmd.Context(), broker, id, wait)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().String("stream", "", "target stream (defaults to the first configured stream)")
	cmd.Flags().String("task-name", "demo", "task_name field of the published body")
	cmd.Flags().String("payload", "", "payload as a JSON object")
	cmd.Flags().String("correlation-id", "", "correlation id (defaults to the message UUID)")
	cmd.Flags().Duration("wait", 0, "poll the status until terminal or this timeout elapses")
	return cmd
}

// waitTerminal polls the status record of id until it reaches COMPLETED or FAILED.
func waitTerminal(ctx context.Context, b *taskstream.Broker, id string, timeout time.Duration) (*taskstream.StatusRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var last *taskstream.StatusRecord
	for {
		rec, err := b.Status(ctx, id)
		switch {
		case err == nil:
			last = rec
			if rec.Status.Terminal() {
				return rec, nil
			}
		case !errors.Is(err, taskstream.ErrStatusNotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			if last != nil {
				return last, nil
			}
			return nil, fmt.Errorf("task %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <uuid>",
		Short: "Print the status record of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, rdb, broker, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()
			rec, err := broker.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func reapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove idle consumers of the configured streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rdb, broker, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rdb.Close()

			identity, _ := cmd.Flags().GetString("identity")
			// a random identity protects nobody; every idle consumer is a candidate
			id := taskstream.ConsumerIdentity(identity)
			if identity == "" {
				id = taskstream.NewConsumerIdentity()
			}
			n, err := broker.CleanupTopologies(cmd.Context(), cfg.Topologies(id), cfg.Reaper.IdleThreshold,
				taskstream.WithPendingThreshold(cfg.Reaper.PendingThreshold))
			fmt.Printf("removed %d consumer(s)\n", n)
			return err
		},
	}
	cmd.Flags().String("identity", "", "consumer identity whose consumers are kept")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
