package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vidstream/vidstream/internal/streamclient"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		baseURL string
		token   string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "fetch <video|episode> <id>",
		Short: "Download a stream through the chunked range endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				baseURL = cfg.Server.BaseURL
			}
			if token == "" {
				token = strings.TrimSpace(os.Getenv("VIDSTREAM_TOKEN"))
			}
			if token == "" {
				return errors.New("an access token is required (--token or VIDSTREAM_TOKEN)")
			}
			if output == "" {
				output = args[1] + ".mp4"
			}

			loader := streamclient.New(nil)
			info, err := loader.Open(cmd.Context(), baseURL, token, args[0], args[1])
			if err != nil {
				return fmt.Errorf("open stream: %w", err)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			n, err := loader.Load(cmd.Context(), info, f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(output)
				return fmt.Errorf("load stream: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes (%s) to %s\n", n, info.ContentType, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (defaults to server.base_url)")
	cmd.Flags().StringVar(&token, "token", "", "Access token (defaults to $VIDSTREAM_TOKEN)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to <id>.mp4)")
	return cmd
}
