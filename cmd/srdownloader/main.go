// Command srdownloader fetches the firefox archive and tests.zip for this
// run's platform into the run's download directory. Grounded on
// srdownloader.py's StoneRidgeDownloader.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/srerrors"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srdownloader",
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

	server := cfg.GetString("download", "server", "")
	root := cfg.GetString("download", "root", "downloads")
	platform := cfg.GetString("machine", "download_platform", "")
	suffix := cfg.GetString("machine", "download_suffix", "")
	srid := rc.Get("srid", "")
	downloadDir := rc.Get("download", "")

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return fmt.Errorf("downloader: create download dir: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	firefoxFile := fmt.Sprintf("firefox.%s", suffix)
	if err := fetch(client, server, root, srid, platform, firefoxFile, filepath.Join(downloadDir, firefoxFile)); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrDownloadFailed)
	}
	if err := fetch(client, server, root, srid, platform, "tests.zip", filepath.Join(downloadDir, "tests.zip")); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrDownloadFailed)
	}

	logging.Op().Info("downloader: complete", "srid", srid, "platform", platform)
	return nil
}

func fetch(client *http.Client, server, root, srid, platform, filename, outpath string) error {
	url := fmt.Sprintf("http://%s/%s/%s/%s/%s", server, root, srid, platform, filename)

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", filename, resp.StatusCode)
	}

	f, err := os.Create(outpath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outpath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", outpath, err)
	}
	return nil
}
