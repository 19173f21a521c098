package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-voxdecoder/internal/bundle"
	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/example/go-voxdecoder/internal/doctor"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var bundleName string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local model bundle preflight checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			manifest, err := bundle.PinnedManifest(bundleName)
			if err != nil {
				return err
			}

			names := make([]string, len(manifest.Files))
			for i, f := range manifest.Files {
				names[i] = f.Filename
			}

			dcfg := doctor.Config{
				ModelDir:      cfg.Paths.ModelDir,
				RequiredFiles: names,
				Load: func(dir string) error {
					_, loadErr := decoder.LoadModels(dir, 0)
					return loadErr
				},
			}

			result := doctor.Run(dcfg, os.Stdout)
			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringVar(&bundleName, "bundle", "en-us-5.2", "Pinned bundle name to check against")

	return cmd
}
