package rollback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/animus-labs/animus-deploy/internal/domain"
	platformstore "github.com/animus-labs/animus-deploy/internal/platform/objectstore"
	"github.com/animus-labs/animus-deploy/internal/storage/objectstore"
)

// Marker records the state a rollback is about to replace.
type Marker struct {
	RollbackID      string             `json:"rollback_id"`
	Environment     domain.Environment `json:"environment"`
	Workspace       string             `json:"workspace"`
	App             string             `json:"app"`
	PreviousVersion string             `json:"previous_version,omitempty"`
	TargetVersion   string             `json:"target_version"`
	Reason          string             `json:"reason,omitempty"`
	DeploymentID    string             `json:"deployment_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

type MarkerStore interface {
	RecordMarker(ctx context.Context, marker Marker) error
}

type NopMarkerStore struct{}

func (NopMarkerStore) RecordMarker(context.Context, Marker) error {
	return nil
}

const markerPrefix = platformstore.MarkerPrefix

// ObjectMarkerStore writes each marker as a JSON object.
type ObjectMarkerStore struct {
	store  objectstore.Store
	bucket string
}

func NewObjectMarkerStore(store objectstore.Store, bucket string) (*ObjectMarkerStore, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectMarkerStore{store: store, bucket: bucket}, nil
}

func MarkerKey(marker Marker) string {
	return path.Join(markerPrefix, string(marker.Environment), marker.CreatedAt.UTC().Format("20060102T150405.000Z")+"-"+marker.RollbackID+".json")
}

func (s *ObjectMarkerStore) RecordMarker(ctx context.Context, marker Marker) error {
	body, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := s.store.Put(ctx, s.bucket, MarkerKey(marker), bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("put marker: %w", err)
	}
	return nil
}

// Markers lists recorded markers for env, oldest first.
func (s *ObjectMarkerStore) Markers(ctx context.Context, env domain.Environment) ([]Marker, error) {
	infos, err := s.store.List(ctx, s.bucket, path.Join(markerPrefix, string(env))+"/")
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	out := make([]Marker, 0, len(infos))
	for _, info := range infos {
		rc, _, err := s.store.Get(ctx, s.bucket, info.Key)
		if err != nil {
			return nil, fmt.Errorf("get marker %s: %w", info.Key, err)
		}
		var m Marker
		err = json.NewDecoder(rc).Decode(&m)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decode marker %s: %w", info.Key, err)
		}
		out = append(out, m)
	}
	return out, nil
}
