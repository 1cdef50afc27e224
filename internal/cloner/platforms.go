package cloner

import "github.com/oriys/stoneridge/internal/model"

// platformBuild describes one (platform, architecture) pair the cloner can
// fetch: the try-build subdirectory it lives under, the build's archive
// extension and destination filename, and the architecture id used in both
// the build and test-zip source filenames.
type platformBuild struct {
	OutDir    string
	TrySubdir string
	ArchID    string
	DestName  string
	Ext       string
}

func (p platformBuild) srcFilename(prefix string) string {
	return prefix + "." + p.ArchID + "." + p.Ext
}

func (p platformBuild) testZipFilename(prefix string) string {
	return prefix + "." + p.ArchID + ".tests.zip"
}

// macBuilds, linuxBuilds and windowsBuilds mirror the original cloner's
// per-platform subdirectory layout (LINUX_SUBDIRS/MAC_SUBDIRS/WINDOWS_SUBDIRS
// in stoneridge_cloner.py). windowsBuilds additionally carries a win64
// entry alongside win32: the platform/architecture split is preserved as an
// axis orthogonal to the machine's OS, matching the original's
// linux32/linux64 split.
var (
	macBuilds = []platformBuild{
		{OutDir: "mac", TrySubdir: "try-macosx64", ArchID: "mac", DestName: "firefox.dmg", Ext: "dmg"},
	}
	linuxBuilds = []platformBuild{
		{OutDir: "linux32", TrySubdir: "try-linux", ArchID: "linux-i686", DestName: "firefox.tar.bz2", Ext: "tar.bz2"},
		{OutDir: "linux64", TrySubdir: "try-linux64", ArchID: "linux-x86_64", DestName: "firefox.tar.bz2", Ext: "tar.bz2"},
	}
	windowsBuilds = []platformBuild{
		{OutDir: "win32", TrySubdir: "try-win32", ArchID: "win32", DestName: "firefox.zip", Ext: "zip"},
		{OutDir: "win64", TrySubdir: "try-win64", ArchID: "win64", DestName: "firefox.zip", Ext: "zip"},
	}
)

// buildsFor returns the platform builds to clone for the requested set of
// operating systems, deduplicated and ordered mac, linux, windows.
func buildsFor(oses []model.OperatingSystem) []platformBuild {
	var want struct{ mac, linux, windows bool }
	for _, os := range oses {
		switch os {
		case model.OSMac:
			want.mac = true
		case model.OSLinux:
			want.linux = true
		case model.OSWindows:
			want.windows = true
		}
	}
	var out []platformBuild
	if want.mac {
		out = append(out, macBuilds...)
	}
	if want.linux {
		out = append(out, linuxBuilds...)
	}
	if want.windows {
		out = append(out, windowsBuilds...)
	}
	return out
}
