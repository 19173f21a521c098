package main

import (
	"fmt"
	"os"

	"github.com/example/go-voxdecoder/internal/bundle"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	var bundleName string
	var dir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an on-disk model bundle against its pinned checksums",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Paths.ModelDir
			}

			manifest, err := bundle.PinnedManifest(bundleName)
			if err != nil {
				return err
			}

			err = bundle.Verify(bundle.VerifyOptions{
				Manifest: manifest,
				Dir:      dir,
				Stdout:   os.Stdout,
				Stderr:   os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}

			_, _ = fmt.Fprintln(os.Stdout, "model verify passed")

			return nil
		},
	}

	cmd.Flags().StringVar(&bundleName, "bundle", "en-us-5.2", "Pinned bundle name to verify against")
	cmd.Flags().StringVar(&dir, "dir", "", "Bundle directory to verify (default: configured model dir)")

	return cmd
}
