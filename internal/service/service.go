// Package service writes user-level service definitions that keep the scribe
// daemon running: a launchd plist on macOS and a systemd user unit elsewhere.
package service

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"text/template"
)

// Kind selects the service manager.
type Kind string

const (
	Launchd Kind = "launchd"
	Systemd Kind = "systemd"
)

// DefaultLabel names the unit for both managers.
const DefaultLabel = "com.scribe.agent"

const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>serve</string>
    <string>--config</string>
    <string>{{.Config}}</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>StandardOutPath</key><string>{{.Log}}</string>
  <key>StandardErrorPath</key><string>{{.Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range .Env }}
    <key>{{.Key}}</key><string>{{.Value}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=scribe transcription daemon ({{.Label}})
After=network-online.target sound.target

[Service]
Type=simple
ExecStart={{.Binary}} serve --config {{.Config}}
Restart=on-failure
RestartSec=3
{{- range .Env }}
Environment="{{.Key}}={{.Value}}"
{{- end }}
StandardOutput=append:{{.Log}}
StandardError=append:{{.Log}}

[Install]
WantedBy=default.target
`

// Params describe the unit to generate.
type Params struct {
	Label  string
	Binary string
	Config string
	Log    string
	Env    map[string]string
}

type envPair struct{ Key, Value string }

// DefaultKind picks the manager for this OS.
func DefaultKind() Kind {
	if runtime.GOOS == "darwin" {
		return Launchd
	}
	return Systemd
}

// Path returns where the unit for label lives.
func Path(kind Kind, label string) string {
	home := os.Getenv("HOME")
	if kind == Launchd {
		return filepath.Join(home, "Library", "LaunchAgents", label+".plist")
	}
	return filepath.Join(home, ".config", "systemd", "user", label+".service")
}

// Render produces the unit file contents.
func Render(kind Kind, p Params) ([]byte, error) {
	src := systemdTemplate
	if kind == Launchd {
		src = launchdTemplate
	}
	tpl, err := template.New(string(kind)).Parse(src)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]envPair, 0, len(keys))
	for _, k := range keys {
		env = append(env, envPair{Key: k, Value: p.Env[k]})
	}
	var buf bytes.Buffer
	err = tpl.Execute(&buf, struct {
		Params
		Env []envPair
	}{Params: p, Env: env})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders the unit and writes it to Path(kind, p.Label).
func Write(kind Kind, p Params) (string, error) {
	if p.Label == "" {
		return "", fmt.Errorf("service label is empty")
	}
	data, err := Render(kind, p)
	if err != nil {
		return "", err
	}
	path := Path(kind, p.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Status returns the unit path and whether it exists.
func Status(kind Kind, label string) (string, bool) {
	path := Path(kind, label)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path, false
}
