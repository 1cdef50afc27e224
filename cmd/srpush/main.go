// Command srpush submits a try-run push to the master's intake endpoint,
// per §6. Credentials (host, ldap, password) come from environment
// variables, then a config file, then an interactive prompt, matching
// srpush.py's fallback chain.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/model"
)

func main() {
	var netconfigs, operatingSystems []string
	var configPath string

	cmd := &cobra.Command{
		Use:   "srpush <sha>",
		Short: "Submit a Stone Ridge push",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srid, err := push(configPath, args[0], netconfigs, operatingSystems, os.Stdin, os.Stdout)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println(srid)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&netconfigs, "netconfig", nil, "netconfig(s): broadband, umts, gsm, or all (repeatable)")
	cmd.Flags().StringSliceVar(&operatingSystems, "os", nil, "operating system(s): linux, mac, windows, or all (repeatable)")
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to srpush credentials file")
	cmd.MarkFlagRequired("netconfig")
	cmd.MarkFlagRequired("os")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.srpush.yaml"
}

func push(configPath, sha string, netconfigs, operatingSystems []string, stdin io.Reader, stdout io.Writer) (string, error) {
	if len(sha) < 12 {
		return "", fmt.Errorf("srpush: sha must be at least 12 characters")
	}

	nc, err := expandNetconfigs(netconfigs)
	if err != nil {
		return "", err
	}
	osList, err := expandOperatingSystems(operatingSystems)
	if err != nil {
		return "", err
	}

	host, ldap, password := loadCredentials(configPath, stdin, stdout)
	if host == "" || ldap == "" || password == "" {
		return "", fmt.Errorf("srpush: host, ldap, and password are all required")
	}

	return submitPush(http.DefaultClient, fmt.Sprintf("https://%s/srpush", host), sha, ldap, password, nc, osList)
}

// submitPush POSTs the push form to endpoint and returns the assigned
// srid. Split out from push so tests can point it at a plain-HTTP
// httptest.Server instead of requiring a TLS fixture.
func submitPush(client *http.Client, endpoint, sha, ldap, password string, nc []model.Netconfig, osList []model.OperatingSystem) (string, error) {
	form := url.Values{
		"sha":  {sha},
		"ldap": {ldap},
	}
	for _, c := range nc {
		form.Add("netconfig", string(c))
	}
	for _, o := range osList {
		form.Add("operating_system", string(o))
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(ldap, password)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("srpush: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("srpush: server returned %d: %s", resp.StatusCode, string(body))
	}

	return extractSrid(body)
}

func expandNetconfigs(requested []string) ([]model.Netconfig, error) {
	for _, r := range requested {
		if r == "all" {
			return model.AllNetconfigs, nil
		}
	}
	var out []model.Netconfig
	for _, r := range requested {
		nc := model.Netconfig(r)
		if !isKnownNetconfig(nc) {
			return nil, fmt.Errorf("srpush: unknown netconfig %q", r)
		}
		out = append(out, nc)
	}
	return out, nil
}

func expandOperatingSystems(requested []string) ([]model.OperatingSystem, error) {
	for _, r := range requested {
		if r == "all" {
			return model.AllOperatingSystems, nil
		}
	}
	var out []model.OperatingSystem
	for _, r := range requested {
		osName := model.OperatingSystem(r)
		if !isKnownOS(osName) {
			return nil, fmt.Errorf("srpush: unknown os %q", r)
		}
		out = append(out, osName)
	}
	return out, nil
}

func isKnownNetconfig(nc model.Netconfig) bool {
	for _, n := range model.AllNetconfigs {
		if n == nc {
			return true
		}
	}
	return false
}

func isKnownOS(o model.OperatingSystem) bool {
	for _, o2 := range model.AllOperatingSystems {
		if o2 == o {
			return true
		}
	}
	return false
}

// loadCredentials resolves host/ldap/password from environment variables
// first, then the srpush config file's [srpush] section, then an
// interactive prompt for whatever is still missing — mirroring
// srpush.py's env-then-file-then-prompt fallback chain.
func loadCredentials(configPath string, stdin io.Reader, stdout io.Writer) (host, ldap, password string) {
	host = os.Getenv("SRPUSH_HOST")
	ldap = os.Getenv("SRPUSH_LDAP")
	password = os.Getenv("SRPUSH_PASSWORD")

	if configPath != "" && (host == "" || ldap == "" || password == "") {
		if cfg, err := config.Load(configPath); err == nil {
			if host == "" {
				host = cfg.GetString("srpush", "host", "")
			}
			if ldap == "" {
				ldap = cfg.GetString("srpush", "ldap", "")
			}
			if password == "" {
				password = cfg.GetString("srpush", "password", "")
			}
		}
	}

	reader := bufio.NewReader(stdin)
	if host == "" {
		host = promptLine(stdout, reader, "host")
	}
	if ldap == "" {
		ldap = promptLine(stdout, reader, "ldap")
	}
	if password == "" {
		password = promptLine(stdout, reader, "password")
	}
	return host, ldap, password
}

func promptLine(stdout io.Writer, reader *bufio.Reader, label string) string {
	fmt.Fprintf(stdout, "%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func extractSrid(body []byte) (string, error) {
	var resp struct {
		Srid string `json:"srid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Srid == "" {
		return "", fmt.Errorf("srpush: response had no srid: %s", string(body))
	}
	return resp.Srid, nil
}
