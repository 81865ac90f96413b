package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blink/internal/client"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	expires int
	once    bool
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "blink [flags] <path>...",
		Short: "Share files through a blink server",
		Long: "Upload a file and print its share link. Directories and multiple\n" +
			"paths are zipped into a single archive first.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args)
		},
	}

	defaultServer := os.Getenv("BLINK_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", defaultServer, "blink server URL (env BLINK_SERVER)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up after this long")
	root.Flags().IntVarP(&opts.expires, "expires", "e", 24, "hours until the link expires, 0 for never")
	root.Flags().BoolVarP(&opts.once, "once", "o", false, "delete the file after the first download")

	root.AddCommand(newInfoCmd(opts))
	return root
}

func newClient(opts *options) (*client.Client, error) {
	return client.New(opts.server, &http.Client{Timeout: opts.timeout})
}

func runUpload(cmd *cobra.Command, opts *options, args []string) error {
	parsed, err := client.ParseArgs(args)
	if err != nil {
		return err
	}
	if opts.expires < 0 {
		return &client.ValidationError{Arg: "--expires", Cause: "must be zero or positive"}
	}

	c, err := newClient(opts)
	if err != nil {
		return err
	}

	bundle, err := client.NewBundle(parsed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to prepare upload: %w", err)
	}
	defer bundle.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Uploading %s (%s)...\n", bundle.Name, humanize.IBytes(uint64(bundle.Size)))

	share, err := c.Upload(cmd.Context(), bundle.Name, bundle, client.UploadOptions{
		ExpiryHours: opts.expires,
		OneTime:     opts.once,
	})
	if err != nil {
		return err
	}

	printShare(cmd, share)
	return nil
}

func newInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show metadata for a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			share, err := c.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printShare(cmd, share)
			fmt.Fprintf(cmd.OutOrStdout(), "  downloads: %d\n", share.Downloads)
			return nil
		},
	}
}

func printShare(cmd *cobra.Command, share *client.Share) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s (%s)\n", share.OriginalName, humanize.IBytes(uint64(max(share.SizeBytes, 0))))
	fmt.Fprintf(out, "  link:      %s\n", share.URL)
	fmt.Fprintf(out, "  download:  %s\n", share.DownloadURL)

	if share.ExpiresAt == nil {
		fmt.Fprintln(out, "  expires:   never")
	} else {
		fmt.Fprintf(out, "  expires:   %s (%s)\n", share.ExpiresAt.Local().Format(time.DateTime), humanize.Time(*share.ExpiresAt))
	}
	if share.OneTime {
		fmt.Fprintln(out, "  one-time:  deleted after the first download")
	}
}
