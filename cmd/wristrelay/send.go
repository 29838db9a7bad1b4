package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wristrelay/internal/app"
	"wristrelay/internal/notification"
	"wristrelay/internal/transport/loop"
	logx "wristrelay/pkg/logx"
)

func sendCmd() *cobra.Command {
	var (
		pkg, title, subtitle, text string
		foreground                 string
		list                       bool
		wait                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Dry-run one notification through the relay",
		Long: `Send runs a notification through the full pipeline against a simulated
watch and reports what the relay would do with it. The configured transport is
never contacted; history is written if storage is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			a, err := app.New(cfgPath,
				app.WithEnv(env),
				app.WithLoopDriver(),
				app.WithoutWatch(),
				app.WithLogger(logx.NewConsole("warn")))
			if err != nil {
				return err
			}
			drv := a.Driver().(*loop.Driver)
			if foreground != "" {
				id, err := uuid.Parse(foreground)
				if err != nil {
					return fmt.Errorf("--foreground: %w", err)
				}
				drv.SetForeground(id)
			}

			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				_ = a.Stop(ctx, app.StopAppStop)
			}()

			out := a.Process(cmd.Context(), &notification.Source{
				Key:      notification.Key{Package: pkg, ID: 1},
				Title:    title,
				Subtitle: subtitle,
				Text:     text,
				List:     list,
				PostedAt: time.Now(),
			})

			deadline := time.Now().Add(wait)
			for !a.Idle() && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status:  %s\n", out.Status)
			if out.Reason != "" {
				fmt.Fprintf(w, "reason:  %s\n", out.Reason)
			}
			if out.ID != 0 {
				fmt.Fprintf(w, "id:      %d\nmode:    %s\n", out.ID, out.Mode)
			}
			fmt.Fprintf(w, "packets: %d\n", len(drv.Sent()))
			for _, n := range drv.Native() {
				fmt.Fprintf(w, "native:  %q / %q\n", n.Title, n.Body)
			}
			for _, n := range drv.Basic() {
				fmt.Fprintf(w, "basic:   %q / %q\n", n.Title, n.Body)
			}
			if !a.Idle() {
				fmt.Fprintln(w, "warning: transfer still running after", wait)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&pkg, "app", "com.example.chat", "source app package")
	f.StringVar(&title, "title", "", "notification title")
	f.StringVar(&subtitle, "subtitle", "", "notification subtitle")
	f.StringVar(&text, "text", "", "notification body")
	f.StringVar(&foreground, "foreground", "", "uuid of the watch app in the foreground")
	f.BoolVar(&list, "list", false, "send as a list transfer")
	f.DurationVar(&wait, "wait", 3*time.Second, "how long to wait for the transfer to finish")
	return cmd
}
