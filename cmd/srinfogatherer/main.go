// Command srinfogatherer reads the unpacked build's application.ini and the
// local machine's identity into info.json, the metadata record every later
// stage re-embeds verbatim. Grounded on srinfogatherer.py.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/runid"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srinfogatherer",
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

	bindir := rc.Get("bin", "")
	outdir := rc.Get("out", "")
	srid := rc.Get("srid", "")
	netconfig := rc.Get("netconfig", "")
	tstamp := rc.GetInt("tstamp", 0)

	app, err := parseINISection(filepath.Join(bindir, "application.ini"), "App")
	if err != nil {
		return fmt.Errorf("infogatherer: parse application.ini: %w", err)
	}

	originalBuildID := app["BuildID"]
	buildIDBase := originalBuildID
	if len(buildIDBase) > 14 {
		buildIDBase = buildIDBase[:14]
	}

	osName := cfg.GetString("machine", "os", "")
	suffix := buildIDSuffix(netconfig, osName)

	info := model.InfoRecord{
		Build: model.BuildIdentity{
			Name:            app["Name"],
			Version:         app["Version"],
			Revision:        app["SourceStamp"],
			Branch:          netconfig,
			BuildID:         buildIDBase + suffix,
			OriginalBuildID: originalBuildID,
		},
		Machine: model.MachineIdentity{
			Hostname:  hostname(),
			OS:        osName,
			OSVersion: cfg.GetString("machine", "os_version", ""),
			CPU:       runtime.GOARCH,
		},
		Netconfig: model.Netconfig(netconfig),
		Srid:      srid,
		Timestamp: tstamp,
	}

	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("infogatherer: create outdir: %w", err)
	}

	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("infogatherer: marshal info.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outdir, "info.json"), body, 0o644); err != nil {
		return fmt.Errorf("infogatherer: write info.json: %w", err)
	}

	logging.Op().Info("infogatherer: complete", "srid", srid)
	return nil
}

// buildIDSuffix derives the two-character suffix that disambiguates the
// same build's BuildID across (netconfig, os) combinations, per
// srinfogatherer.py's comment about the graph server's schema: the os
// letter followed by the netconfig digit (runid.BuildIDSuffix), or "" when
// either value is unknown.
func buildIDSuffix(netconfig, osName string) string {
	return runid.BuildIDSuffix(osName, netconfig)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// parseINISection is a minimal INI reader limited to a single named
// section; application.ini is plain "[Section]\nkey=value" with no nesting
// or typed values, so a hand reader is simpler than pulling in a general
// INI library for one flat lookup.
func parseINISection(path, section string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line[1:len(line)-1] == section
			continue
		}
		if !inSection {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		values[key] = val
	}
	return values, scanner.Err()
}
