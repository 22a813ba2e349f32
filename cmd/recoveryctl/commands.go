package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"template-studio/internal/domain/entity"
	"template-studio/internal/infra/worker"
	"template-studio/internal/observability/slo"
	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/usecase/integrity"
	"template-studio/internal/usecase/recovery"
)

var (
	errNoBackup  = errors.New("no backup stored for key")
	errCorrupted = errors.New("backup failed integrity verification")
)

var janitorMetrics = sync.OnceValue(worker.NewJanitorMetrics)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) backupCmd() *cobra.Command {
	var (
		doc, title, role, file string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Store draft content as a backup",
		Long:  "Reads draft content from --file (or stdin) and stores it as the backup of --doc, or of --role for an unsaved draft.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" {
				// #nosec G304 -- path is an operator-supplied CLI argument
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open draft: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			content, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read draft: %w", err)
			}

			if role != "" {
				role = string(entity.ParseRole(role))
			}
			return a.withStores(cmd.Context(), func(s *stores) error {
				c := newCoordinator(a.cfg, s, a.logger)
				if !c.CreateBackup(cmd.Context(), string(content), doc, title, role) {
					return errors.New("backup was not stored, see log for details")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "backup stored")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&doc, "doc", "", "document ID")
	cmd.Flags().StringVar(&role, "role", "", "role of an unsaved draft")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVar(&file, "file", "", "file holding the draft content (default: stdin)")
	cmd.MarkFlagsOneRequired("doc", "role")
	return cmd
}

type verifyOutput struct {
	Key       string           `json:"key"`
	Valid     bool             `json:"valid"`
	Status    integrity.Status `json:"status"`
	Details   []string         `json:"details,omitempty"`
	Version   int              `json:"version"`
	UpdatedAt string           `json:"updated_at"`
	Salvage   *salvageOutput   `json:"salvage,omitempty"`
}

type salvageOutput struct {
	Recovered bool             `json:"recovered"`
	Method    integrity.Method `json:"method,omitempty"`
	Length    int              `json:"length"`
}

func (a *app) verifyCmd() *cobra.Command {
	var k keyFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of a stored backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := k.key()
			if err != nil {
				return err
			}
			return a.withStores(cmd.Context(), func(s *stores) error {
				rec, err := s.primary.Read(cmd.Context(), key)
				if err != nil {
					return fmt.Errorf("read backup: %w", err)
				}
				if rec == nil {
					return errNoBackup
				}

				checker := integrity.NewChecker(integrity.WithLogger(a.logger))
				res := checker.Verify(rec)
				out := verifyOutput{
					Key:       key.String(),
					Valid:     res.Valid,
					Status:    res.Status,
					Details:   res.Details,
					Version:   rec.Meta.Version,
					UpdatedAt: rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
				}
				if !res.Valid {
					salvage := checker.AttemptContentRecovery(rec.Content, rec.Meta.ContentType)
					out.Salvage = &salvageOutput{
						Recovered: salvage.Recovered,
						Method:    salvage.Method,
						Length:    len(salvage.Content),
					}
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if !res.Valid {
					return errCorrupted
				}
				return nil
			})
		},
	}
	k.bind(cmd)
	return cmd
}

func (a *app) recoverCmd() *cobra.Command {
	var (
		k      keyFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover a backup, salvaging or falling back to the alternate store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := k.key()
			if err != nil {
				return err
			}
			return a.withStores(cmd.Context(), func(s *stores) error {
				c := newCoordinator(a.cfg, s, a.logger)
				defer func() { _ = c.Shutdown(context.WithoutCancel(cmd.Context())) }()

				rec, err := c.HandleConcurrentRecovery(cmd.Context(), key).Wait(cmd.Context())
				if err != nil {
					return err
				}
				if rec == nil {
					return errNoBackup
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), rec.Content)
				return err
			})
		},
	}
	k.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the whole record as JSON instead of the content")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	var doc string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the backup of a document from every store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStores(cmd.Context(), func(s *stores) error {
				c := newCoordinator(a.cfg, s, a.logger)
				if c.ClearBackup(cmd.Context(), doc) {
					fmt.Fprintln(cmd.OutOrStdout(), "backup removed")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to remove")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&doc, "doc", "", "document ID")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}

func (a *app) janitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Prune backups older than the retention window",
		Long: "Runs the retention janitor on JANITOR_SCHEDULE and serves /health, /health/ready and /metrics " +
			"on WORKER_HEALTH_PORT. With --once it prunes a single time and exits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			metrics := janitorMetrics()
			jcfg := worker.LoadConfigFromEnv(a.logger, metrics)

			return a.withStores(cmd.Context(), func(s *stores) error {
				c := newCoordinator(a.cfg, s, a.logger)
				j := worker.NewJanitor(jcfg, s.Targets(),
					worker.WithJanitorLogger(a.logger),
					worker.WithJanitorMetrics(metrics),
					worker.WithSLOSource(func() slo.Counts { return c.Stats().SLOCounts() }))

				if once {
					result, err := j.RunOnce(cmd.Context())
					if printErr := printJSON(cmd.OutOrStdout(), result.Pruned); printErr != nil {
						return printErr
					}
					return err
				}
				return a.serveJanitor(cmd.Context(), jcfg, j, c, s.Breakers())
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run once and exit")
	return cmd
}

func (a *app) serveJanitor(ctx context.Context, jcfg *worker.JanitorConfig, j *worker.Janitor, c *recovery.Coordinator, breakers []*circuitbreaker.CircuitBreaker) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hs := worker.NewHealthServer(":"+strconv.Itoa(jcfg.HealthPort), a.logger,
		worker.WithBreakers("backup-stores", breakers...),
		worker.WithDetails(func() any { return c.Stats() }))

	healthErr := make(chan error, 1)
	go func() { healthErr <- hs.Start(ctx) }()
	hs.SetReady(true)

	err := j.Start(ctx)
	hs.SetReady(false)
	stop()

	if herr := <-healthErr; herr != nil && !errors.Is(herr, http.ErrServerClosed) {
		err = errors.Join(err, herr)
	}
	a.logger.Info("janitor shut down", slog.Any("error", err))
	return err
}
