package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tieba-mod/moderator/internal/domain"
)

// LoadUsersDir reads every *.yaml / *.yml file in dir as one UserConfig,
// in filename order. A user whose Username is empty inherits the
// filename's base (so `alice.yaml` needs no redundant `username: alice`
// line). Strict decoding: an unknown key in a user file is a load error,
// not a silent drop, since a typoed rule field would otherwise disable
// moderation without a trace.
func LoadUsersDir(dir string) ([]domain.UserConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read users dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	users := make([]domain.UserConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read user file %s: %w", path, err)
		}

		var u domain.UserConfig
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&u); err != nil {
			return nil, fmt.Errorf("config: decode user file %s: %w", path, err)
		}
		if u.Username == "" {
			u.Username = strings.TrimSuffix(name, filepath.Ext(name))
		}
		users = append(users, u)
	}
	return users, nil
}
