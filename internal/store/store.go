// Package store is Warden's persistence layer: one directory per realm
// under the working directory, one realm.json and one apps/<app-id>.json
// per application (spec.md §4.1, §6).
//
// Writes are crash-atomic at single-file granularity (temp file + rename).
// Cross-file atomicity is not provided — callers order writes so a crash
// between them leaves a consistent-enough state to recover: the realm
// record first, then per-app records; on destroy, per-app records first,
// then the realm record, then the directory.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/xfeldman/warden/internal/model"
	"github.com/xfeldman/warden/internal/wardenerr"
)

const (
	realmFileName = "realm.json"
	appsDirName   = "apps"
)

// Store is a file-backed persistence root.
type Store struct {
	root string
}

// New creates a Store rooted at workdir. It does not create the directory
// — call EnsureRoot for that.
func New(workdir string) *Store {
	return &Store{root: workdir}
}

// EnsureRoot creates the working directory if it does not exist.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "create workdir", err)
	}
	return nil
}

// realmFile stores the config of one realm. State is runtime-only and is
// deliberately absent (spec.md §6: "Running state is never persisted").
type realmFile struct {
	Config model.RealmConfig `json:"config"`
}

// appFile stores the config and installed flag of one application.
type appFile struct {
	Config    model.ApplicationConfig `json:"config"`
	Installed bool                    `json:"installed"`
}

// LoadedRealm is one realm reconstructed from disk at boot.
type LoadedRealm struct {
	ID     string
	Config model.RealmConfig
	Apps   map[string]*model.Application
}

func (s *Store) realmDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) realmFilePath(id string) string {
	return filepath.Join(s.realmDir(id), realmFileName)
}

func (s *Store) appsDir(id string) string {
	return filepath.Join(s.realmDir(id), appsDirName)
}

func (s *Store) appFilePath(realmID, appID string) string {
	return filepath.Join(s.appsDir(realmID), appID+".json")
}

// LoadAll scans the working directory for realm directories, reconstructing
// every realm and its applications. Entries whose realm.json fails to
// parse are skipped and logged, not fatal to startup (spec.md §4.1, §7).
func (s *Store) LoadAll() ([]*LoadedRealm, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wardenerr.Wrap(wardenerr.PersistenceError, "scan workdir", err)
	}

	var realms []*LoadedRealm
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		data, err := os.ReadFile(s.realmFilePath(id))
		if err != nil {
			log.Printf("store: skipping realm %s: read realm.json: %v", id, err)
			continue
		}
		var rf realmFile
		if err := json.Unmarshal(data, &rf); err != nil {
			log.Printf("store: skipping realm %s: parse realm.json: %v", id, err)
			continue
		}

		apps, err := s.loadApps(id)
		if err != nil {
			log.Printf("store: realm %s: %v", id, err)
		}

		realms = append(realms, &LoadedRealm{
			ID:     id,
			Config: rf.Config,
			Apps:   apps,
		})
	}
	return realms, nil
}

func (s *Store) loadApps(realmID string) (map[string]*model.Application, error) {
	apps := make(map[string]*model.Application)

	entries, err := os.ReadDir(s.appsDir(realmID))
	if err != nil {
		if os.IsNotExist(err) {
			return apps, nil
		}
		return apps, fmt.Errorf("scan apps dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		appID := strings.TrimSuffix(entry.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(s.appsDir(realmID), entry.Name()))
		if err != nil {
			log.Printf("store: realm %s: skipping app %s: %v", realmID, appID, err)
			continue
		}
		var af appFile
		if err := json.Unmarshal(data, &af); err != nil {
			log.Printf("store: realm %s: skipping app %s: parse error: %v", realmID, appID, err)
			continue
		}
		apps[appID] = &model.Application{
			ID:        appID,
			Config:    af.Config,
			Installed: af.Installed,
		}
	}
	return apps, nil
}

// CreateRealm writes a new realm directory and its realm.json.
func (s *Store) CreateRealm(id string, cfg model.RealmConfig) error {
	if err := os.MkdirAll(s.appsDir(id), 0700); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "create realm dir", err)
	}
	return s.SaveRealm(id, cfg)
}

// SaveRealm atomically writes a realm's config to realm.json.
func (s *Store) SaveRealm(id string, cfg model.RealmConfig) error {
	data, err := json.MarshalIndent(realmFile{Config: cfg}, "", "  ")
	if err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "marshal realm", err)
	}
	if err := atomicWrite(s.realmFilePath(id), data); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "write realm.json", err)
	}
	return nil
}

// SaveApp atomically writes an application's config to apps/<app-id>.json.
func (s *Store) SaveApp(realmID string, app *model.Application) error {
	if err := os.MkdirAll(s.appsDir(realmID), 0700); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "create apps dir", err)
	}
	data, err := json.MarshalIndent(appFile{Config: app.Config, Installed: app.Installed}, "", "  ")
	if err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "marshal app", err)
	}
	if err := atomicWrite(s.appFilePath(realmID, app.ID), data); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "write app record", err)
	}
	return nil
}

// DeleteRealm removes per-app records, then the realm record, then the
// directory — in that order, so a crash mid-delete never leaves an
// apps/ record referencing a vanished realm.json (spec.md §4.1).
func (s *Store) DeleteRealm(id string) error {
	appEntries, _ := os.ReadDir(s.appsDir(id))
	for _, e := range appEntries {
		if err := os.Remove(filepath.Join(s.appsDir(id), e.Name())); err != nil && !os.IsNotExist(err) {
			return wardenerr.Wrap(wardenerr.PersistenceError, "remove app record", err)
		}
	}
	if err := os.Remove(s.realmFilePath(id)); err != nil && !os.IsNotExist(err) {
		return wardenerr.Wrap(wardenerr.PersistenceError, "remove realm.json", err)
	}
	if err := os.RemoveAll(s.realmDir(id)); err != nil {
		return wardenerr.Wrap(wardenerr.PersistenceError, "remove realm dir", err)
	}
	return nil
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
