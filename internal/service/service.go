// Package service installs `yana bot` as a macOS launchd agent.
package service

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/joho/godotenv"

	"github.com/0324wy/yana/config"
)

const (
	Label      = "com.yana.bot"
	DefaultBin = "/usr/local/bin/yana"
)

// Installer manages the launchd agent. Home and Out default to the user's
// home directory and stdout.
type Installer struct {
	Home   string
	BinDir string
	Out    io.Writer

	// run executes launchctl; replaced in tests.
	run func(args ...string) error
}

func New(out io.Writer) *Installer {
	home, _ := os.UserHomeDir()
	if out == nil {
		out = os.Stdout
	}
	return &Installer{Home: home, BinDir: filepath.Dir(DefaultBin), Out: out, run: launchctl}
}

func (i *Installer) binPath() string   { return filepath.Join(i.BinDir, "yana") }
func (i *Installer) plistDir() string  { return filepath.Join(i.Home, "Library", "LaunchAgents") }
func (i *Installer) plistPath() string { return filepath.Join(i.plistDir(), Label+".plist") }
func (i *Installer) logDir() string    { return filepath.Join(i.Home, "Library", "Logs") }
func (i *Installer) stdoutLog() string { return filepath.Join(i.logDir(), "yana-stdout.log") }
func (i *Installer) stderrLog() string { return filepath.Join(i.logDir(), "yana-stderr.log") }

// Install copies the running binary into BinDir, seeds ~/.yana/config from
// .env if needed, writes the launchd plist and loads it.
func (i *Installer) Install() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolving symlinks: %w", err)
	}
	if err := copyFile(exe, i.binPath(), 0o755); err != nil {
		return err
	}
	fmt.Fprintf(i.Out, "installed binary to %s\n", i.binPath())

	if err := i.seedConfig(".env", config.ConfigFile()); err != nil {
		return err
	}

	plist, err := i.renderPlist(resolveWorkDir(config.ConfigFile()))
	if err != nil {
		return fmt.Errorf("generating plist: %w", err)
	}

	// Unload existing plist if present (ignore errors)
	if _, err := os.Stat(i.plistPath()); err == nil {
		_ = i.run("unload", i.plistPath())
	}
	if err := os.MkdirAll(i.plistDir(), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(i.plistPath(), []byte(plist), 0o644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	fmt.Fprintf(i.Out, "wrote plist to %s\n", i.plistPath())

	if err := i.run("load", i.plistPath()); err != nil {
		return fmt.Errorf("loading plist: %w", err)
	}
	fmt.Fprintln(i.Out, "service loaded and will start on login")
	return nil
}

// seedConfig copies envFile to configFile unless configFile already exists.
func (i *Installer) seedConfig(envFile, configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintf(i.Out, "config already exists at %s\n", configFile)
		return nil
	}
	envData, err := os.ReadFile(envFile)
	if err != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(configFile, envData, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(i.Out, "seeded config from %s -> %s\n", envFile, configFile)
	return nil
}

// resolveWorkDir picks the service's working directory. Relative database
// or session paths in the runtime config are resolved against the directory
// install was run from; otherwise ~/.yana.
func resolveWorkDir(configFile string) string {
	vars, _ := godotenv.Read(configFile)
	for _, key := range []string{"DATABASE_PATH", "SESSION_DIR"} {
		if p, ok := vars[key]; ok && p != "" && !filepath.IsAbs(p) {
			if wd, err := os.Getwd(); err == nil {
				return wd
			}
		}
	}
	return config.ConfigDir()
}

// Uninstall unloads and removes the plist and the installed binary.
func (i *Installer) Uninstall() error {
	if _, err := os.Stat(i.plistPath()); err == nil {
		if err := i.run("unload", i.plistPath()); err != nil {
			fmt.Fprintf(i.Out, "warning: unload failed: %v\n", err)
		}
		if err := os.Remove(i.plistPath()); err != nil {
			return fmt.Errorf("removing plist: %w", err)
		}
		fmt.Fprintf(i.Out, "removed %s\n", i.plistPath())
	} else {
		fmt.Fprintln(i.Out, "plist not found, skipping")
	}

	if _, err := os.Stat(i.binPath()); err == nil {
		if err := os.Remove(i.binPath()); err != nil {
			return fmt.Errorf("removing binary: %w", err)
		}
		fmt.Fprintf(i.Out, "removed %s\n", i.binPath())
	} else {
		fmt.Fprintf(i.Out, "binary not found in %s, skipping\n", i.BinDir)
	}

	fmt.Fprintln(i.Out, "uninstalled")
	return nil
}

func (i *Installer) Start() error { return i.run("start", Label) }

func (i *Installer) Stop() error { return i.run("stop", Label) }

func (i *Installer) Restart() error {
	_ = i.Stop()
	return i.Start()
}

// Status prints launchctl's view of the agent.
func (i *Installer) Status() error {
	cmd := exec.Command("launchctl", "list", Label)
	cmd.Stdout = i.Out
	cmd.Stderr = i.Out
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(i.Out, "service is not loaded")
	}
	return nil
}

// Logs tails both log files.
func (i *Installer) Logs() error {
	cmd := exec.Command("tail", "-f", i.stdoutLog(), i.stderrLog())
	cmd.Stdout = i.Out
	cmd.Stderr = i.Out
	return cmd.Run()
}

func launchctl(args ...string) error {
	cmd := exec.Command("launchctl", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("launchctl %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading binary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("copying binary to %s: %w", dst, err)
	}
	return nil
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinPath}}</string>
		<string>bot</string>
	</array>
	<key>WorkingDirectory</key>
	<string>{{.WorkDir}}</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.StdoutLog}}</string>
	<key>StandardErrorPath</key>
	<string>{{.StderrLog}}</string>
</dict>
</plist>
`))

type plistData struct {
	Label     string
	BinPath   string
	WorkDir   string
	StdoutLog string
	StderrLog string
}

func (i *Installer) renderPlist(workDir string) (string, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, plistData{
		Label:     Label,
		BinPath:   i.binPath(),
		WorkDir:   workDir,
		StdoutLog: i.stdoutLog(),
		StderrLog: i.stderrLog(),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
