package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mediashelf/mediashelf/internal/bootstrap"
	"github.com/mediashelf/mediashelf/internal/config"
	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/logging"
	"github.com/mediashelf/mediashelf/internal/media"
)

// cli holds the state shared by every command.
type cli struct {
	configPath string
	envFile    string
	backend    string
	logLevel   string

	gw *gateway.Gateway
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "mediashelf-gatewayctl",
		Short:         "Operate on the MediaShelf object store through the storage gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().StringVar(&c.backend, "backend", "", "override storage backend: s3, gcs, azure, memory")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		c.keygenCmd(),
		c.uploadCmd(),
		c.fetchCmd(),
		c.headCmd(),
		c.presignCmd(),
		c.deleteCmd(),
	)
	return root
}

// open builds the gateway from configuration unless one was injected.
func (c *cli) open(cmd *cobra.Command) error {
	logging.Setup(c.logLevel, "text", cmd.ErrOrStderr())
	if c.gw != nil {
		return nil
	}
	if err := config.LoadEnvFile(c.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Storage.Backend = c.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	gw, err := bootstrap.NewGateway(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	c.gw = gw
	return nil
}

func (c *cli) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen CATEGORY OWNER [FILENAME]",
		Short: "Generate a fresh storage key",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, ok := media.ParseCategory(args[0])
			if !ok {
				return gwerr.ErrInvalidCategory.WithMessage("unknown media category %q", args[0])
			}
			filename := ""
			if len(args) == 3 {
				filename = args[2]
			}
			k, err := c.gw.GenerateKey(cat, args[1], filename)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k.String())
			return nil
		},
	}
}

func (c *cli) uploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload KEY FILE",
		Short: "Stream a local file to KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[1]))
			}
			res, err := c.gw.PutObject(cmd.Context(), args[0], f, contentType, st.Size())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default: guessed from the file extension)")
	return cmd
}

func (c *cli) fetchCmd() *cobra.Command {
	var rangeHeader, output string
	cmd := &cobra.Command{
		Use:   "fetch KEY",
		Short: "Stream an object, or a byte range of it, to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := c.gw.StreamObject(cmd.Context(), args[0], rangeHeader)
			if err != nil {
				return err
			}
			defer stream.Body.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := io.Copy(w, stream.Body)
			if err != nil {
				return fmt.Errorf("stream interrupted after %d of %d bytes: %w", n, stream.ContentLength, err)
			}
			desc := fmt.Sprintf("%d", stream.Status)
			if stream.ContentRange != "" {
				desc += " " + stream.ContentRange
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s, %s (%s)\n", desc, humanize.IBytes(uint64(n)), stream.ContentType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&rangeHeader, "range", "r", "", `HTTP Range value, e.g. "bytes=0-1023"`)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// headResult is the JSON printed by head.
type headResult struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

func (c *cli) headCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head KEY",
		Short: "Show an object's size and content type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.gw.HeadObject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), headResult{
				Key:          args[0],
				Size:         s.ObjectSize,
				ContentType:  s.ContentType,
				ETag:         s.ETag,
				LastModified: s.LastModified,
			})
		},
	}
}

func (c *cli) presignCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "presign",
		Short: "Issue presigned URLs",
	}
	cmd.PersistentFlags().DurationVar(&ttl, "ttl", 0, "URL lifetime (default: configured default, clamped to the ceiling)")

	var contentType string
	var size int64
	upload := &cobra.Command{
		Use:   "upload KEY",
		Short: "Presign a browser upload against the public endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.gw.PresignUpload(cmd.Context(), args[0], contentType, ttl, size)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), u)
		},
	}
	upload.Flags().StringVar(&contentType, "content-type", "", "content type the client will send")
	upload.Flags().Int64Var(&size, "size", -1, "exact upload size in bytes to sign into the URL")
	upload.MarkFlagRequired("content-type")

	download := &cobra.Command{
		Use:   "download KEY",
		Short: "Presign a read against the internal endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.gw.PresignDownload(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), u)
		},
	}

	cmd.AddCommand(upload, download)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY...",
		Short: "Delete objects; absent keys are not an error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range args {
				if err := c.gw.DeleteObject(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", key)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
