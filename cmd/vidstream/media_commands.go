package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidstream/vidstream/internal/transcode"
)

func (c *commandContext) tools() *transcode.Tools {
	cfg, _ := c.ensureConfig()
	return transcode.New(cfg.Workers.FFmpegPath, cfg.Workers.FFprobePath)
}

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var thumbnail string

	cmd := &cobra.Command{
		Use:   "transcode <input> <output>",
		Short: "Transcode a file to H.264/AAC MP4 the way the worker does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := ctx.tools()
			input, output := args[0], args[1]

			info, err := tools.Probe(cmd.Context(), input)
			if err != nil {
				return err
			}
			started := time.Now()
			if err := tools.Transcode(cmd.Context(), input, output); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Transcoded %s (%s) to %s in %s\n",
				input, info.Duration.Round(time.Second), output, time.Since(started).Round(time.Millisecond))

			if thumbnail != "" {
				if err := tools.Thumbnail(cmd.Context(), output, thumbnail, transcode.ThumbnailOffset(info.Duration)); err != nil {
					return err
				}
				fmt.Fprintf(out, "Thumbnail written to %s\n", thumbnail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "Also extract a JPEG thumbnail to this path")
	return cmd
}

type probeOutput struct {
	Duration   float64 `json:"durationSeconds"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"videoCodec"`
	AudioCodec string  `json:"audioCodec,omitempty"`
	Format     string  `json:"format"`
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the duration and streams of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ctx.tools().Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeProbe(cmd.OutOrStdout(), info, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func writeProbe(w io.Writer, info transcode.Info, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(probeOutput{
			Duration:   info.Duration.Seconds(),
			Width:      info.Width,
			Height:     info.Height,
			VideoCodec: info.VideoCodec,
			AudioCodec: info.AudioCodec,
			Format:     info.FormatName,
		})
	}
	audio := info.AudioCodec
	if audio == "" {
		audio = "none"
	}
	fmt.Fprintf(w, "Duration:   %s (%ds)\n", info.Duration.Round(time.Second), info.Seconds())
	fmt.Fprintf(w, "Resolution: %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(w, "Video:      %s\n", info.VideoCodec)
	fmt.Fprintf(w, "Audio:      %s\n", audio)
	fmt.Fprintf(w, "Container:  %s\n", info.FormatName)
	return nil
}
