// Command sruploader collects the collator's per-suite upload payloads plus
// the run's metadata zip and publishes a single OutgoingMessage onto the
// outgoing queue for the reporter to pick up. Grounded on sruploader.py's
// StoneRidgeUploader.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
	"github.com/oriys/stoneridge/internal/srerrors"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "sruploader",
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
	srid := rc.Get("srid", "")
	netconfig := rc.Get("netconfig", "")
	osName := cfg.GetString("machine", "os", "")
	metadataPath := rc.Get("metadata", "")

	results, err := collectUploadPayloads(outdir)
	if err != nil {
		return fmt.Errorf("uploader: %w: %w", err, srerrors.ErrUploadFailed)
	}
	if results == nil {
		logging.Op().Info("uploader: nothing to upload")
		return nil
	}

	metadata := ""
	if data, err := os.ReadFile(metadataPath); err == nil {
		metadata = base64.StdEncoding.EncodeToString(data)
	} else {
		logging.Op().Warn("uploader: missing metadata, continuing anyway", "path", metadataPath)
	}

	bus := mq.NewRedisBus(redis.NewClient(&redis.Options{
		Addr: cfg.GetString("broker", "addr", "localhost:6379"),
	}))
	defer bus.Close()

	msg := model.OutgoingMessage{
		Srid:            srid,
		Netconfig:       model.Netconfig(netconfig),
		OperatingSystem: model.OperatingSystem(osName),
		Results:         results,
		MetadataZip:     metadata,
	}

	if err := bus.Publish(context.Background(), mqtopics.Outgoing, msg); err != nil {
		return fmt.Errorf("uploader: publish: %w: %w", err, srerrors.ErrUploadFailed)
	}

	logging.Op().Info("uploader: complete", "srid", srid)
	return nil
}

// collectUploadPayloads bundles every upload_*.json file the collator wrote
// into a single {suite: payload} object. Returns nil if none exist.
func collectUploadPayloads(outdir string) (json.RawMessage, error) {
	entries, err := os.ReadDir(outdir)
	if err != nil {
		return nil, fmt.Errorf("read out dir: %w", err)
	}

	combined := make(map[string]json.RawMessage)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "upload_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		suite := strings.TrimSuffix(strings.TrimPrefix(name, "upload_"), ".json")
		body, err := os.ReadFile(filepath.Join(outdir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		combined[suite] = body
	}
	if len(combined) == 0 {
		return nil, nil
	}

	return json.Marshal(combined)
}
