package main

import (
	"fmt"
	"os"

	"github.com/example/go-voxdecoder/internal/bundle"
	"github.com/spf13/cobra"
)

func newModelDownloadCmd() *cobra.Command {
	var bundleName string
	var baseURL string
	var outDir string
	var token string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download an acoustic model bundle",
		RunE: func(_ *cobra.Command, _ []string) error {
			manifest, err := bundle.PinnedManifest(bundleName)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("VOXDECODER_MODEL_TOKEN")
			}

			err = bundle.Download(bundle.DownloadOptions{
				Manifest: manifest,
				BaseURL:  baseURL,
				OutDir:   outDir,
				Token:    token,
				Stdout:   os.Stdout,
				Stderr:   os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&bundleName, "bundle", "en-us-5.2", "Pinned bundle name to download")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL the bundle's files are served from (required)")
	cmd.Flags().StringVar(&outDir, "out-dir", "models/en-us-5.2", "Directory where bundle files are stored")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for a private model store (falls back to VOXDECODER_MODEL_TOKEN env var)")
	_ = cmd.MarkFlagRequired("base-url")

	return cmd
}
