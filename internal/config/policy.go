package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"gatekeepr.org/internal/obs"
)

// Policy is the access policy table loaded from TOML.
type Policy struct {
	SweepInterval   time.Duration  `toml:"sweep_interval"`
	SystemRoleFloor int            `toml:"system_role_floor"`
	AccessLevels    map[string]int `toml:"access_levels"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		SweepInterval:   time.Minute,
		SystemRoleFloor: 10,
		AccessLevels: map[string]int{
			"read":  10,
			"write": 50,
			"admin": 80,
		},
	}
}

// Threshold returns the minimum approver hierarchy level for an access level.
func (p Policy) Threshold(level string) (int, bool) {
	v, ok := p.AccessLevels[strings.ToLower(strings.TrimSpace(level))]
	return v, ok
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	if p.SweepInterval < time.Second {
		return errors.New("policy: sweep_interval must be at least 1s")
	}
	if p.SystemRoleFloor < 0 {
		return errors.New("policy: system_role_floor must not be negative")
	}
	if len(p.AccessLevels) == 0 {
		return errors.New("policy: at least one access level is required")
	}
	for name, lvl := range p.AccessLevels {
		if strings.TrimSpace(name) == "" {
			return errors.New("policy: empty access level name")
		}
		if lvl < 0 {
			return fmt.Errorf("policy: access level %q has negative threshold", name)
		}
	}
	return nil
}

// LoadPolicy decodes a TOML policy file on top of the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	var file Policy
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return Policy{}, fmt.Errorf("decode policy %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Policy{}, fmt.Errorf("decode policy %s: unknown key %s", path, undecoded[0])
	}
	if md.IsDefined("sweep_interval") {
		p.SweepInterval = file.SweepInterval
	}
	if md.IsDefined("system_role_floor") {
		p.SystemRoleFloor = file.SystemRoleFloor
	}
	if md.IsDefined("access_levels") {
		p.AccessLevels = make(map[string]int, len(file.AccessLevels))
		for k, v := range file.AccessLevels {
			p.AccessLevels[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// PolicyStore holds the live policy and swaps it atomically on reload.
type PolicyStore struct {
	path    string
	current atomic.Pointer[Policy]
}

// NewPolicyStore loads path (or the defaults when empty).
func NewPolicyStore(path string) (*PolicyStore, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	s := &PolicyStore{path: path}
	s.current.Store(&p)
	return s, nil
}

// Current returns the active policy snapshot.
func (s *PolicyStore) Current() Policy {
	return *s.current.Load()
}

// Threshold implements the resolver threshold lookup against the live policy.
func (s *PolicyStore) Threshold(level string) (int, bool) {
	return s.Current().Threshold(level)
}

// Reload re-reads the policy file. On error the previous policy stays active.
func (s *PolicyStore) Reload() error {
	p, err := LoadPolicy(s.path)
	if err != nil {
		return err
	}
	s.current.Store(&p)
	return nil
}

// Watch reloads the policy whenever the file changes, until ctx is done.
// The parent directory is watched so atomic replace-by-rename is picked up.
func (s *PolicyStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				obs.Error(ctx, "policy_reload_failed", "path", s.path, "error", err.Error())
				continue
			}
			obs.Info(ctx, "policy_reloaded", "path", s.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			obs.Warn(ctx, "policy_watch_error", "error", err.Error())
		}
	}
}
