// Бинарник second-brain: персональный ассистент с памятью в базе знаний.
// Подкоманды: run — основной цикл с транспортами и консолью; check —
// самопроверка окружения; briefing/nudge — немедленные проактивные
// отправки; drain-queue — разовая синхронизация офлайн-очереди.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"

	"second-brain/internal/app"
	"second-brain/internal/infra/config"
	"second-brain/internal/infra/logger"
	"second-brain/internal/support/debug"
	"second-brain/internal/support/version"
)

func main() {
	var envPath string

	root := &cobra.Command{
		Use:           "secondbrain",
		Short:         "Personal assistant with a knowledge-base memory",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := config.Load(envPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(config.Env().LogLevel)
			if dir := config.Env().LogDir; dir != "" {
				logger.EnableFileSink(dir)
			}
			debug.Enabled = config.Env().Debug
			for _, msg := range config.Warnings() {
				logger.Warn(msg)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to .env file")

	root.AddCommand(runCmd(), checkCmd(), briefingCmd(), nudgeCmd(), drainCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// signalContext возвращает контекст, отменяемый по Ctrl+C/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the assistant (transports, reminders, console)",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a := app.New(ctx, stop)
			if err := a.Run(); err != nil {
				return err
			}
			logger.Info("graceful shutdown complete")
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Self-test: config, knowledge base, data dir, transports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			results, err := app.Check(ctx)
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "ok    %s\n", r.Name)
				} else {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", r.Name, r.Err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func briefingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "briefing",
		Short: "Send the morning briefing now (idempotent per day)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			res, err := app.New(ctx, stop).BriefingOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "briefing sent to chat %s\n", res.SentTo)
			return nil
		},
	}
}

func nudgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nudge",
		Short: "Run the reminder pass now (time windows apply)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			res, err := app.New(ctx, stop).NudgeOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d reminder(s) sent\n", res.Sent)
			return nil
		},
	}
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain-queue",
		Short: "Sync the offline queue to the knowledge base once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			res, err := app.New(ctx, stop).DrainOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drain: %d synced, %d deduplicated, %d failed, %d skipped; %d remaining\n",
				res.Successful, res.Deduplicated, res.Failed, res.Skipped, res.Remaining)
			if !res.Clean() {
				return fmt.Errorf("drain left %d item(s) behind", res.Failed+res.Skipped)
			}
			return nil
		},
	}
}
