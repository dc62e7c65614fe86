// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"fmt"
	"path/filepath"

	"github.com/kranesystems/rfsdb/internal/store"
	"gopkg.in/ini.v1"
)

// Config is the parsed contents of a repository's config file (§6):
// an INI document with a [core] section and zero or more
// [remote "<name>"] sections.
//
// Grounded on Nivl-git-go's backend/fsbackend/config.go, which builds
// and saves the same kind of section/key INI document via
// gopkg.in/ini.v1; the section-per-remote shape is new here since this
// domain has no equivalent of git's single-remote-per-section-name-only
// convention collision to worry about.
type Config struct {
	RepoVersion            int
	Mode                   store.Mode
	Parent                 string
	EnableUncompressedCache bool

	Remotes map[string]*RemoteConfig
}

// RemoteConfig is one [remote "<name>"] section.
type RemoteConfig struct {
	Name           string
	URL            string
	GPGVerify      bool
	TLSPermissive  bool
	Branches       []string
}

const configFileName = "config"

// LoadConfig reads and parses the config file at the given repository
// root.
func LoadConfig(root string) (*Config, error) {
	f, err := ini.Load(filepath.Join(root, configFileName))
	if err != nil {
		return nil, fmt.Errorf("rfsdb: load config: %w", err)
	}
	cfg := &Config{Remotes: map[string]*RemoteConfig{}}

	core := f.Section("core")
	cfg.RepoVersion = core.Key("repo_version").MustInt(0)
	if cfg.RepoVersion != 1 {
		return nil, fmt.Errorf("rfsdb: %w: core.repo_version must be 1, got %d", ErrUnsupportedRepoVersion, cfg.RepoVersion)
	}
	modeStr := core.Key("mode").MustString("")
	mode, err := store.ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	cfg.Parent = core.Key("parent").MustString("")
	cfg.EnableUncompressedCache = core.Key("enable-uncompressed-cache").MustBool(false)

	for _, s := range f.Sections() {
		name := s.Name()
		const prefix = `remote "`
		if len(name) < len(prefix)+1 || name[:len(prefix)] != prefix || name[len(name)-1] != '"' {
			continue
		}
		remoteName := name[len(prefix) : len(name)-1]
		rc := &RemoteConfig{
			Name:          remoteName,
			URL:           s.Key("url").MustString(""),
			GPGVerify:     s.Key("gpg-verify").MustBool(false),
			TLSPermissive: s.Key("tls-permissive").MustBool(false),
		}
		if s.HasKey("branches") {
			rc.Branches = s.Key("branches").Strings(",")
		}
		cfg.Remotes[remoteName] = rc
	}
	return cfg, nil
}

// ErrUnsupportedRepoVersion is returned by LoadConfig when
// core.repo_version is absent or not 1.
var ErrUnsupportedRepoVersion = fmt.Errorf("unsupported repo_version")

// WriteDefaultConfig writes the minimal config file for Create (§4.D
// "create writes a minimal config and the directory skeleton").
func WriteDefaultConfig(root string, mode store.Mode) error {
	f := ini.Empty()
	core, err := f.NewSection("core")
	if err != nil {
		return err
	}
	if _, err := core.NewKey("repo_version", "1"); err != nil {
		return err
	}
	if _, err := core.NewKey("mode", mode.String()); err != nil {
		return err
	}
	return f.SaveTo(filepath.Join(root, configFileName))
}

// AddRemote appends a [remote "<name>"] section to the config file.
func AddRemote(root string, rc *RemoteConfig) error {
	path := filepath.Join(root, configFileName)
	f, err := ini.Load(path)
	if err != nil {
		return err
	}
	name := fmt.Sprintf(`remote "%s"`, rc.Name)
	s, err := f.NewSection(name)
	if err != nil {
		return err
	}
	if _, err := s.NewKey("url", rc.URL); err != nil {
		return err
	}
	if _, err := s.NewKey("gpg-verify", boolStr(rc.GPGVerify)); err != nil {
		return err
	}
	if _, err := s.NewKey("tls-permissive", boolStr(rc.TLSPermissive)); err != nil {
		return err
	}
	if len(rc.Branches) > 0 {
		if _, err := s.NewKey("branches", joinComma(rc.Branches)); err != nil {
			return err
		}
	}
	return f.SaveTo(path)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func joinComma(ss []string) string {
	out := ss[0]
	for _, s := range ss[1:] {
		out += "," + s
	}
	return out
}
