// Command srunpacker extracts the downloaded firefox archive and pulls the
// xpcshell binary, components, plugins and pageloader chrome out of
// tests.zip into the run's bin directory. Platform dispatch mirrors
// srunpacker.py's __new__-based subclass selection, expressed here as a
// switch over the configured machine os. Grounded on srunpacker.py.
package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/srerrors"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srunpacker",
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

	workdir := rc.Get("work", "")
	bindir := rc.Get("bin", "")
	downloaddir := rc.Get("download", "")
	srroot := cfg.GetString("stoneridge", "root", "")
	osName := cfg.GetString("machine", "os", "")
	suffix := cfg.GetString("machine", "download_suffix", "")
	xpcshellBin := cfg.GetString("machine", "xpcshell", "xpcshell")

	firefoxPkg := filepath.Join(downloaddir, fmt.Sprintf("firefox.%s", suffix))
	testzip := filepath.Join(downloaddir, "tests.zip")

	if err := os.MkdirAll(bindir, 0o755); err != nil {
		return fmt.Errorf("unpacker: create bin dir: %w", err)
	}

	if err := unpackFirefox(osName, firefoxPkg, workdir, srroot); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}

	unzipdir := filepath.Join(workdir, "tests")
	if err := os.MkdirAll(unzipdir, 0o755); err != nil {
		return fmt.Errorf("unpacker: create unzip dir: %w", err)
	}
	if err := extractZipPrefix(testzip, unzipdir, "bin"); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}

	unzipbin := filepath.Join(unzipdir, "bin")
	xpcshell := filepath.Join(unzipbin, xpcshellBin)
	if err := os.Chmod(xpcshell, 0o755); err != nil {
		return fmt.Errorf("unpacker: chmod xpcshell: %w: %w", err, srerrors.ErrUnpackFailed)
	}
	if err := copyFile(xpcshell, filepath.Join(bindir, xpcshellBin)); err != nil {
		return fmt.Errorf("unpacker: copy xpcshell: %w: %w", err, srerrors.ErrUnpackFailed)
	}

	if err := copyTree(unzipbin, bindir, "components"); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}
	if err := copyTree(unzipbin, bindir, "plugins"); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}

	pageloader := filepath.Join(srroot, "pageloader")
	if err := copyTree(pageloader, bindir, "components"); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}
	if err := copyTree(pageloader, bindir, "chrome"); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}

	chrome := filepath.Join(bindir, "chrome")
	srdatasrc := filepath.Join(srroot, "srdata.js")
	srdatadst := filepath.Join(chrome, "srdata.js")
	os.Remove(srdatadst)
	if err := copyFile(srdatasrc, srdatadst); err != nil {
		return fmt.Errorf("unpacker: copy srdata.js: %w: %w", err, srerrors.ErrUnpackFailed)
	}

	if err := appendManifest(filepath.Join(pageloader, "chrome.manifest"), filepath.Join(bindir, "chrome.manifest")); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrUnpackFailed)
	}

	logging.Op().Info("unpacker: complete", "bindir", bindir)
	return nil
}

func unpackFirefox(osName, firefoxPkg, workdir, srroot string) error {
	switch osName {
	case "windows":
		return extractZip(firefoxPkg, workdir)
	case "linux":
		cmd := exec.Command("tar", "xjf", firefoxPkg)
		cmd.Dir = workdir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("untar firefox: %w: %s", err, out)
		}
		return nil
	case "mac":
		installdmg := filepath.Join(srroot, "installdmg.sh")
		cmd := exec.Command("/bin/bash", installdmg, firefoxPkg)
		cmd.Dir = workdir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("installdmg: %w: %s", err, out)
		}
		return nil
	default:
		return fmt.Errorf("unpacker: unknown machine os %q", osName)
	}
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		if err := extractZipEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

// extractZipPrefix extracts only entries whose name starts with prefix,
// matching srunpacker.py's members filter on the tests.zip archive.
func extractZipPrefix(zipPath, destDir, prefix string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if err := extractZipEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, f.Name)
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// copyTree recursively copies <srcRoot>/<name> to <dstRoot>/<name>.
func copyTree(srcRoot, dstRoot, name string) error {
	src := filepath.Join(srcRoot, name)
	dst := filepath.Join(dstRoot, name)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func appendManifest(pageloaderManifest, firefoxManifest string) error {
	existing, err := os.ReadFile(firefoxManifest)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", firefoxManifest, err)
	}
	addition, err := os.ReadFile(pageloaderManifest)
	if err != nil {
		return fmt.Errorf("read %s: %w", pageloaderManifest, err)
	}
	combined := append(existing, addition...)
	return os.WriteFile(firefoxManifest, combined, 0o644)
}
