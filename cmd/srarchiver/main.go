// Command srarchiver zips up a run's out directory into the archive store,
// named after the run's timestamp, machine, and build revision. Grounded
// on srarchiver.py's StoneRidgeArchiver.
package main

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srarchiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	flags.Bind(cmd)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags stagecli.Flags) error {
	cfg, rc, err := stagecli.Load(flags)
	if err != nil {
		return err
	}

	outdir := rc.Get("out", "")
	archivedir := cfg.GetString("archiver", "archive_dir", "/var/lib/stoneridge/archives")

	infoBody, err := os.ReadFile(filepath.Join(outdir, "info.json"))
	if err != nil {
		return fmt.Errorf("archiver: read info.json: %w", err)
	}
	var info model.InfoRecord
	if err := json.Unmarshal(infoBody, &info); err != nil {
		return fmt.Errorf("archiver: parse info.json: %w", err)
	}

	arcname := fmt.Sprintf("stoneridge_%d_%s_%s", info.Timestamp, info.Machine.Hostname, info.Build.Revision)

	if err := os.MkdirAll(archivedir, 0o755); err != nil {
		return fmt.Errorf("archiver: create archive dir: %w", err)
	}

	zipPath := filepath.Join(archivedir, arcname+".zip")
	if err := archiveDir(outdir, arcname, zipPath); err != nil {
		return fmt.Errorf("archiver: %w", err)
	}

	logging.Op().Info("archiver: complete", "archive", zipPath)
	return nil
}

// archiveDir writes every file under srcDir into a zip at destZip, rooted
// under arcname so multiple archives can be unpacked side by side.
func archiveDir(srcDir, arcname, destZip string) error {
	out, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.Walk(srcDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.Join(arcname, rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}
