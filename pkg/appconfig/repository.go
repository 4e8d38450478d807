package appconfig

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Repository is the key-value view of application definitions
type Repository interface {
	List(ctx context.Context) ([]AppDefinition, error)
	Get(ctx context.Context, id string) (AppDefinition, error)
	Create(ctx context.Context, def AppDefinition) error
	Upsert(ctx context.Context, def AppDefinition) error
	Delete(ctx context.Context, id string) error
}

// FileRepository stores definitions as a YAML list
type FileRepository struct {
	path   string
	lock   *flock.Flock
	mutex  sync.RWMutex
	logger logging.Logger
}

func NewFileRepository(path string, logger logging.Logger) *FileRepository {
	return &FileRepository{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

func (r *FileRepository) Path() string {
	return r.path
}

// LoadAppsFromFile reads, defaults and validates an apps file; a missing file is an empty list
func LoadAppsFromFile(filename string) ([]AppDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []AppDefinition{}, nil
		}
		return nil, errors.NewIOError("failed to read apps file", err).WithContext("apps_file", filename)
	}

	var apps []AppDefinition
	if err := yaml.Unmarshal(data, &apps); err != nil {
		return nil, errors.NewConfigurationError("failed to parse apps file", err).WithContext("apps_file", filename)
	}
	if apps == nil {
		apps = []AppDefinition{}
	}

	for i := range apps {
		SetDefaults(&apps[i])
	}

	if err := ValidateApps(apps); err != nil {
		return nil, errors.NewConfigurationError("apps file validation failed", err).WithContext("apps_file", filename)
	}

	return apps, nil
}

func (r *FileRepository) List(ctx context.Context) ([]AppDefinition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	apps, err := LoadAppsFromFile(r.path)
	if err != nil {
		return nil, err
	}

	result := make([]AppDefinition, 0, len(apps))
	for _, app := range apps {
		result = append(result, app.Clone())
	}
	return result, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (AppDefinition, error) {
	apps, err := r.List(ctx)
	if err != nil {
		return AppDefinition{}, err
	}
	for _, app := range apps {
		if app.ID == id {
			return app, nil
		}
	}
	return AppDefinition{}, errors.NewNotFoundError("application not found", nil).WithContext("app_id", id)
}

// Upsert replaces the definition with the same ID or appends a new one
func (r *FileRepository) Upsert(ctx context.Context, def AppDefinition) error {
	SetDefaults(&def)
	if err := ValidateAppDefinition(def); err != nil {
		return err
	}

	return r.modify(ctx, func(apps []AppDefinition) ([]AppDefinition, error) {
		for i := range apps {
			if apps[i].ID == def.ID {
				apps[i] = def.Clone()
				r.logger.Infof("Updated app definition, id: %s", def.ID)
				return apps, nil
			}
		}
		r.logger.Infof("Added app definition, id: %s", def.ID)
		return append(apps, def.Clone()), nil
	})
}

// Create appends a new definition; an existing ID is a conflict
func (r *FileRepository) Create(ctx context.Context, def AppDefinition) error {
	SetDefaults(&def)
	if err := ValidateAppDefinition(def); err != nil {
		return err
	}

	return r.modify(ctx, func(apps []AppDefinition) ([]AppDefinition, error) {
		for _, app := range apps {
			if app.ID == def.ID {
				return nil, errors.NewConflictError("application ID already exists", nil).WithContext("app_id", def.ID)
			}
		}
		r.logger.Infof("Added app definition, id: %s", def.ID)
		return append(apps, def.Clone()), nil
	})
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	return r.modify(ctx, func(apps []AppDefinition) ([]AppDefinition, error) {
		for i := range apps {
			if apps[i].ID == id {
				r.logger.Infof("Deleted app definition, id: %s", id)
				return append(apps[:i], apps[i+1:]...), nil
			}
		}
		return nil, errors.NewNotFoundError("application not found", nil).WithContext("app_id", id)
	})
}

// modify runs a read-modify-write cycle under both the in-process and the file lock
func (r *FileRepository) modify(ctx context.Context, change func([]AppDefinition) ([]AppDefinition, error)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return errors.NewIOError("failed to create apps file directory", err).WithContext("apps_file", r.path)
	}

	if err := r.lock.Lock(); err != nil {
		return errors.NewIOError("failed to lock apps file", err).WithContext("apps_file", r.path)
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warnf("Failed to unlock apps file, path: %s, error: %v", r.path, err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("apps file update cancelled", err)
	}

	apps, err := LoadAppsFromFile(r.path)
	if err != nil {
		return err
	}

	apps, err = change(apps)
	if err != nil {
		return err
	}

	return r.save(apps)
}

func (r *FileRepository) save(apps []AppDefinition) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(apps); err != nil {
		return errors.NewInternalError("failed to encode apps file", err)
	}
	if err := encoder.Close(); err != nil {
		return errors.NewInternalError("failed to encode apps file", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create temporary apps file", err).WithContext("apps_file", r.path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.NewIOError("failed to write temporary apps file", err).WithContext("apps_file", r.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError("failed to close temporary apps file", err).WithContext("apps_file", r.path)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return errors.NewIOError("failed to replace apps file", err).WithContext("apps_file", r.path)
	}

	r.logger.Debugf("Apps file saved, path: %s, apps: %d", r.path, len(apps))
	return nil
}
