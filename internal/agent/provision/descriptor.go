// Package provision locates the agent executable and installs it from the
// release download site when it is missing.
package provision

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kandev/mcphost/internal/common/config"
)

// Descriptor identifies the release asset for one platform.
type Descriptor struct {
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	Version      string `json:"version"`
	Asset        string `json:"asset"`
	DownloadURL  string `json:"download_url"`
	InstallPath  string `json:"install_path"`
}

// NormalizePlatform maps a GOOS value onto the platforms releases are built
// for. Anything unknown is treated as linux.
func NormalizePlatform(goos string) string {
	switch goos {
	case "windows", "darwin":
		return goos
	default:
		return "linux"
	}
}

// NormalizeArch maps a GOARCH value onto arm64 or amd64.
func NormalizeArch(goarch string) string {
	if goarch == "arm64" {
		return "arm64"
	}
	return "amd64"
}

// ExeSuffix returns ".exe" on windows.
func ExeSuffix(goos string) string {
	if NormalizePlatform(goos) == "windows" {
		return ".exe"
	}
	return ""
}

// InstallPath returns where the agent lives: the configured executable path,
// or <binDir>/<binaryName>[.exe].
func InstallPath(agent config.AgentConfig, binDir, goos string) string {
	if agent.ExecutablePath != "" {
		return agent.ExecutablePath
	}
	return filepath.Join(binDir, agent.BinaryName+ExeSuffix(goos))
}

// ResolveDescriptor derives the release asset for goos/goarch. The result is
// a pure function of its inputs.
func ResolveDescriptor(agent config.AgentConfig, binDir, goos, goarch string) Descriptor {
	platform := NormalizePlatform(goos)
	arch := NormalizeArch(goarch)
	asset := fmt.Sprintf("%s-%s-%s%s", agent.BinaryName, platform, arch, ExeSuffix(goos))
	base := strings.TrimSuffix(agent.DownloadBaseURL, "/")

	return Descriptor{
		Platform:     platform,
		Architecture: arch,
		Version:      agent.Version,
		Asset:        asset,
		DownloadURL:  fmt.Sprintf("%s/%s/%s", base, agent.Version, asset),
		InstallPath:  InstallPath(agent, binDir, goos),
	}
}
