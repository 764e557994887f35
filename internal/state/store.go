package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ConfigMapName is the name of the ConfigMap holding all deployment records.
const ConfigMapName = "labctl-state"

// casRetries bounds the read-modify-write loop when concurrent writers
// race on the state ConfigMap.
const casRetries = 3

// ConfigMapStore keeps one JSON deployment record per module inside a
// single ConfigMap in the lab namespace. Writes go through a
// compare-and-set on the ConfigMap resource version, so two concurrent
// invocations cannot both believe they hold a module's lock.
type ConfigMapStore struct {
	clientset kubernetes.Interface
	namespace string
	name      string
	logger    *slog.Logger
}

// NewConfigMapStore creates a store writing to the labctl-state ConfigMap
// in the given namespace.
func NewConfigMapStore(clientset kubernetes.Interface, namespace string, logger *slog.Logger) *ConfigMapStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigMapStore{
		clientset: clientset,
		namespace: namespace,
		name:      ConfigMapName,
		logger:    logger,
	}
}

// Get returns the record for one module, or ErrNotFound.
func (s *ConfigMapStore) Get(ctx context.Context, module string) (*Record, error) {
	cm, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, fmt.Errorf("module %s: %w", module, ErrNotFound)
	}
	raw, ok := cm.Data[module]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", module, ErrNotFound)
	}
	return decodeRecord(module, raw)
}

// List returns all records sorted by module name.
func (s *ConfigMapStore) List(ctx context.Context) ([]*Record, error) {
	cm, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, nil
	}
	records := make([]*Record, 0, len(cm.Data))
	for module, raw := range cm.Data {
		rec, err := decodeRecord(module, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Module < records[j].Module })
	return records, nil
}

// Acquire moves a module's record into a locked status on behalf of one
// operation. A record already locked by a different operation yields
// ErrConflict unless force is set, which steals the lock. Acquiring a
// module without a record creates one.
func (s *ConfigMapStore) Acquire(ctx context.Context, module, operation string, to Status, force bool) (*Record, error) {
	if !to.Locked() {
		return nil, fmt.Errorf("acquire requires a locked status, got %s", to)
	}
	return s.mutate(ctx, module, func(rec *Record) error {
		if rec.Status.Locked() && rec.Operation != operation && !force {
			return fmt.Errorf("module %s is %s under operation %s: %w",
				module, rec.Status, rec.Operation, ErrConflict)
		}
		rec.Status = to
		rec.Operation = operation
		return nil
	})
}

// Transition moves a module's record out of a locked status. Only the
// operation holding the lock may transition; mutate, when non-nil, runs
// on the record before it is written, so callers can bump the revision
// or set the config hash in the same atomic write.
func (s *ConfigMapStore) Transition(ctx context.Context, module, operation string, to Status, apply func(*Record)) (*Record, error) {
	return s.mutate(ctx, module, func(rec *Record) error {
		if rec.Operation != operation {
			return fmt.Errorf("module %s is held by operation %s: %w",
				module, rec.Operation, ErrConflict)
		}
		rec.Status = to
		if !to.Locked() {
			rec.Operation = ""
		}
		if apply != nil {
			apply(rec)
		}
		return nil
	})
}

// Delete removes a module's record. Deleting an absent record is a no-op.
func (s *ConfigMapStore) Delete(ctx context.Context, module string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		cm, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		if cm == nil {
			return nil
		}
		if _, ok := cm.Data[module]; !ok {
			return nil
		}
		delete(cm.Data, module)
		_, err = s.clientset.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{})
		if err == nil {
			s.logger.Debug("deployment record removed", "module", module)
			return nil
		}
		if !kerrors.IsConflict(err) {
			return fmt.Errorf("updating state ConfigMap: %w", err)
		}
	}
	return fmt.Errorf("module %s: concurrent state writes: %w", module, ErrConflict)
}

// mutate runs a read-validate-write cycle for one record. The validate
// function sees a copy of the current record (or a fresh NotDeployed one)
// and either rejects the transition or edits the copy in place. Lost
// compare-and-set races re-run validation against the fresh record.
func (s *ConfigMapStore) mutate(ctx context.Context, module string, validate func(*Record) error) (*Record, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		cm, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		var rec *Record
		if cm != nil {
			if raw, ok := cm.Data[module]; ok {
				rec, err = decodeRecord(module, raw)
				if err != nil {
					return nil, err
				}
			}
		}
		if rec == nil {
			rec = &Record{Module: module, Status: StatusNotDeployed}
		}
		next := rec.clone()
		if err := validate(next); err != nil {
			return nil, err
		}
		next.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encoding record for module %s: %w", module, err)
		}

		if cm == nil {
			created := &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      s.name,
					Namespace: s.namespace,
					Labels: map[string]string{
						"app.kubernetes.io/managed-by": "labctl",
					},
				},
				Data: map[string]string{module: string(payload)},
			}
			_, err = s.clientset.CoreV1().ConfigMaps(s.namespace).Create(ctx, created, metav1.CreateOptions{})
			if err == nil {
				s.logger.Debug("deployment record written", "module", module, "status", next.Status)
				return next, nil
			}
			if kerrors.IsAlreadyExists(err) {
				continue
			}
			return nil, fmt.Errorf("creating state ConfigMap: %w", err)
		}

		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[module] = string(payload)
		_, err = s.clientset.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{})
		if err == nil {
			s.logger.Debug("deployment record written", "module", module, "status", next.Status)
			return next, nil
		}
		if !kerrors.IsConflict(err) {
			return nil, fmt.Errorf("updating state ConfigMap: %w", err)
		}
	}
	return nil, fmt.Errorf("module %s: concurrent state writes: %w", module, ErrConflict)
}

func (s *ConfigMapStore) fetch(ctx context.Context) (*corev1.ConfigMap, error) {
	cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state ConfigMap: %w", err)
	}
	return cm, nil
}

func decodeRecord(module, raw string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding record for module %s: %w", module, err)
	}
	if rec.Module == "" {
		rec.Module = module
	}
	if rec.Status == "" {
		rec.Status = StatusNotDeployed
	}
	return &rec, nil
}
