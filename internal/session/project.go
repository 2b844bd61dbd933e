package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/types"
)

const ProjectVersion = 1

// Project is the on-disk interchange form of a session.
// Caption text is stored as markup; positions are percent of the video box.
type Project struct {
	Version    int                        `yaml:"version"`
	CreatedAt  time.Time                  `yaml:"createdAt"`
	Video      Video                      `yaml:"video"`
	Mode       Mode                       `yaml:"mode"`
	Preview    geometry.Preview           `yaml:"preview"`
	Transcript types.Transcript           `yaml:"transcript"`
	Captions   map[Mode][]caption.Caption `yaml:"captions"`
}

// Export captures the session as a Project.
func (s *State) Export() Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := Project{
		Version:    ProjectVersion,
		CreatedAt:  s.now().UTC(),
		Video:      s.video,
		Mode:       s.mode,
		Preview:    s.preview,
		Transcript: s.transcript,
		Captions:   make(map[Mode][]caption.Caption, len(s.captions)),
	}
	for m, caps := range s.captions {
		p.Captions[m] = caption.CloneAll(caps)
	}
	return p
}

// FromProject builds a session from a loaded project, re-parsing caption markup.
func FromProject(p Project) (*State, error) {
	if p.Version > ProjectVersion {
		return nil, fmt.Errorf("project version %d is newer than supported %d", p.Version, ProjectVersion)
	}
	s := New()
	s.video = p.Video
	s.transcript = p.Transcript
	s.preview = p.Preview
	if p.Mode != "" {
		if !p.Mode.Valid() {
			return nil, fmt.Errorf("project: unknown caption mode %q", p.Mode)
		}
		s.mode = p.Mode
	}
	for m, caps := range p.Captions {
		if err := s.SetCaptions(m, caps); err != nil {
			return nil, fmt.Errorf("project captions (%s): %w", m, err)
		}
	}
	return s, nil
}

// SaveProject writes the session to path atomically.
func SaveProject(path string, s *State) error {
	b, err := yaml.Marshal(s.Export())
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir project dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename project: %w", err)
	}
	return nil
}

func LoadProject(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	var p Project
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", path, err)
	}
	return FromProject(p)
}
