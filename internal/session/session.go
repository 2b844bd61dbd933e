// Package session owns the mutable state of one editing session: the video, its
// transcript, the caption lists, the last preview geometry and the export status.
//
// Every mutation goes through a narrow method on State. Readers get deep copies.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/types"
)

var (
	ErrExportInProgress = errors.New("session: export in progress, edits are disabled")
	ErrCaptionNotFound  = errors.New("session: caption not found")
	ErrNoExport         = errors.New("session: no export in progress")
)

type Mode string

const (
	ModeKeyPhrases Mode = "phrases"
	ModeTranscript Mode = "transcript"
)

func (m Mode) Valid() bool { return m == ModeKeyPhrases || m == ModeTranscript }

type Video struct {
	Path string          `yaml:"path"`
	Info types.MediaInfo `yaml:"info"`
}

// Snapshot is the export-ready projection of the captions: styles flattened against
// the preview geometry that was current when it was taken.
type Snapshot struct {
	Captions []caption.Caption
	Preview  geometry.Preview
	TakenAt  time.Time
}

type ExportStatus struct {
	JobID    string
	State    string
	Progress float64
	Output   string
	Err      string
}

type State struct {
	mu sync.RWMutex

	video      Video
	transcript types.Transcript
	mode       Mode
	captions   map[Mode][]caption.Caption
	preview    geometry.Preview
	snapshot   *Snapshot

	exporting bool
	status    ExportStatus

	now func() time.Time
}

func New() *State {
	return &State{
		mode:     ModeKeyPhrases,
		captions: map[Mode][]caption.Caption{},
		now:      time.Now,
	}
}

func (s *State) SetVideo(v Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	s.video = v
	if s.preview.Video != (geometry.Size{W: v.Info.Width, H: v.Info.Height}) {
		s.preview.Video = geometry.Size{W: v.Info.Width, H: v.Info.Height}
		s.preview = s.preview.Remeasure()
	}
	return nil
}

func (s *State) Video() Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *State) SetTranscript(tr types.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	s.transcript = tr
	return nil
}

func (s *State) Transcript() types.Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript
}

func (s *State) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("session: unknown caption mode %q", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	s.mode = m
	s.snapshot = nil
	return nil
}

func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetCaptions replaces the caption list of a mode after validating it.
func (s *State) SetCaptions(m Mode, caps []caption.Caption) error {
	if !m.Valid() {
		return fmt.Errorf("session: unknown caption mode %q", m)
	}
	caps = caption.CloneAll(caps)
	for i := range caps {
		caps[i].Normalize()
	}
	if err := caption.ValidateAll(caps); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	s.captions[m] = caps
	if m == s.mode {
		s.snapshot = nil
	}
	return nil
}

// Captions returns a copy of the current mode's captions.
func (s *State) Captions() []caption.Caption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return caption.CloneAll(s.captions[s.mode])
}

func (s *State) CaptionsFor(m Mode) []caption.Caption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return caption.CloneAll(s.captions[m])
}

func (s *State) Caption(id string) (caption.Caption, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.captions[s.mode] {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return caption.Caption{}, false
}

// UpdateCaption applies fn to a copy of the caption and stores it if it stays valid.
func (s *State) UpdateCaption(id string, fn func(*caption.Caption)) error {
	return s.UpdateCaptions([]string{id}, fn)
}

// UpdateCaptions applies fn to each listed caption atomically: either all edits land or none.
func (s *State) UpdateCaptions(ids []string, fn func(*caption.Caption)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	caps := caption.CloneAll(s.captions[s.mode])
	for _, id := range ids {
		i := indexOf(caps, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCaptionNotFound, id)
		}
		fn(&caps[i])
		caps[i].ID = id
		if err := caps[i].Validate(); err != nil {
			return err
		}
	}
	s.captions[s.mode] = caps
	return nil
}

// AddCaption appends a caption to the current mode.
func (s *State) AddCaption(c caption.Caption) error {
	c = c.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	if indexOf(s.captions[s.mode], c.ID) >= 0 {
		return fmt.Errorf("session: duplicate caption id %q", c.ID)
	}
	s.captions[s.mode] = append(s.captions[s.mode], c)
	return nil
}

// RemoveCaption deletes a caption. Captions are only ever removed this way.
func (s *State) RemoveCaption(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	caps := s.captions[s.mode]
	i := indexOf(caps, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCaptionNotFound, id)
	}
	s.captions[s.mode] = append(caps[:i:i], caps[i+1:]...)
	return nil
}

func indexOf(caps []caption.Caption, id string) int {
	for i, c := range caps {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// SetPreview records the last measured preview geometry.
func (s *State) SetPreview(p geometry.Preview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = p
}

func (s *State) Preview() geometry.Preview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// BuildSnapshot flattens every caption style against the given preview geometry.
func BuildSnapshot(caps []caption.Caption, p geometry.Preview, at time.Time) Snapshot {
	out := caption.CloneAll(caps)
	for i := range out {
		out[i].Style = out[i].Style.Flatten()
		if out[i].Runs == nil {
			out[i].Normalize()
		}
	}
	return Snapshot{Captions: out, Preview: p, TakenAt: at}
}

// PublishSnapshot stores the export-ready projection of the current captions.
func (s *State) PublishSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := BuildSnapshot(s.captions[s.mode], s.preview, s.now())
	s.snapshot = &snap
	return snap
}

// ExportSnapshot returns the last published snapshot, or builds one from the current
// captions when the preview never published.
func (s *State) ExportSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot != nil {
		snap := *s.snapshot
		snap.Captions = caption.CloneAll(snap.Captions)
		return snap
	}
	return BuildSnapshot(s.captions[s.mode], s.preview, s.now())
}

// BeginExport disables edits until FinishExport.
func (s *State) BeginExport(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporting {
		return ErrExportInProgress
	}
	s.exporting = true
	s.status = ExportStatus{JobID: jobID, State: "initializing"}
	return nil
}

func (s *State) SetExportProgress(state string, pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exporting {
		return
	}
	s.status.State = state
	if pct > s.status.Progress {
		s.status.Progress = pct
	}
}

// FinishExport re-enables edits and records the outcome.
func (s *State) FinishExport(output string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exporting {
		return ErrNoExport
	}
	s.exporting = false
	if err != nil {
		s.status.State = "failed"
		s.status.Err = err.Error()
		return nil
	}
	s.status.State = "complete"
	s.status.Progress = 100
	s.status.Output = output
	return nil
}

func (s *State) Exporting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exporting
}

func (s *State) ExportStatus() ExportStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
