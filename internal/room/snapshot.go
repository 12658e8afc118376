package room

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coordroom/coordroom/internal/types"
)

// SnapshotStore persists a Room's RoomSnapshot across process restarts, per
// SPEC_FULL §4: "written via yaml.v3 on clean shutdown and loaded on room
// rehydration." Left unset in tests and in deployments that don't need
// rehydration; a Room with no store configured just keeps state in memory
// for its process lifetime, which is spec.md's baseline behavior.
type SnapshotStore interface {
	Load(roomID string) (*types.RoomSnapshot, error)
	Save(snap types.RoomSnapshot) error
}

// FileSnapshotStore writes one YAML file per room id under Dir. Grounded on
// the teacher's internal/persistence conventions of one file per keyed
// entity, adapted here to room state instead of conversation transcripts.
type FileSnapshotStore struct {
	Dir string
}

func NewFileSnapshotStore(dir string) *FileSnapshotStore {
	return &FileSnapshotStore{Dir: dir}
}

func (s *FileSnapshotStore) path(roomID string) string {
	return filepath.Join(s.Dir, roomID+".yaml")
}

// Load returns (nil, nil) if no snapshot exists yet for roomID.
func (s *FileSnapshotStore) Load(roomID string) (*types.RoomSnapshot, error) {
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap types.RoomSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *FileSnapshotStore) Save(snap types.RoomSnapshot) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(snap.RoomID), data, 0o644)
}
