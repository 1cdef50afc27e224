// Command srcollator turns each xpcshell test's raw .out measurement file
// into an upload-ready JSON payload, wrapping the run's info.json. Grounded
// on stoneridge_collator.py's StoneRidgeCollator.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/srerrors"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srcollator",
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
	_, rc, err := stagecli.Load(flags)
	if err != nil {
		return err
	}

	outdir := rc.Get("out", "")
	xpcoutdir := filepath.Join(outdir, rc.Get("xpcoutleaf", ""))

	infoBody, err := os.ReadFile(filepath.Join(outdir, "info.json"))
	if err != nil {
		return fmt.Errorf("collator: read info.json: %w: %w", err, srerrors.ErrBadResultsJSON)
	}
	var info model.InfoRecord
	if err := json.Unmarshal(infoBody, &info); err != nil {
		return fmt.Errorf("collator: parse info.json: %w: %w", err, srerrors.ErrBadResultsJSON)
	}

	entries, err := os.ReadDir(xpcoutdir)
	if err != nil {
		return fmt.Errorf("collator: read xpcshell out dir: %w", err)
	}

	collated := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".out") {
			continue
		}
		if err := collateOne(outdir, xpcoutdir, e.Name(), info); err != nil {
			logging.Op().Error("collator: skipping malformed result", "file", e.Name(), "error", err)
			continue
		}
		collated++
	}

	logging.Op().Info("collator: complete", "collated", collated)
	return nil
}

func collateOne(outdir, xpcoutdir, filename string, info model.InfoRecord) error {
	ofile := filepath.Join(xpcoutdir, filename)
	body, err := os.ReadFile(ofile)
	if err != nil {
		return err
	}
	var raw model.RawMeasurement
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrBadResultsJSON)
	}

	results, resultsAux := model.Flatten(raw)
	suite := strings.SplitN(filename, ".", 2)[0]

	payload := model.UploadPayload{
		InfoRecord: info,
		TestRun:    suite,
		Results:    results,
		ResultsAux: resultsAux,
	}

	if err := os.WriteFile(filepath.Join(outdir, filename), body, 0o644); err != nil {
		return fmt.Errorf("copy raw result: %w", err)
	}

	uploadBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upload payload: %w", err)
	}
	uploadFile := filepath.Join(outdir, fmt.Sprintf("upload_%s.json", suite))
	if err := os.WriteFile(uploadFile, uploadBody, 0o644); err != nil {
		return fmt.Errorf("write upload payload: %w", err)
	}
	return nil
}
