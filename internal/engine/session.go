package engine

import (
	"context"
	"errors"
	"fmt"

	"voxedit/internal/clipboard"
	"voxedit/internal/mask"
	"voxedit/internal/operation"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

// session is per-actor editing state. Guarded by Manager.mu.
type session struct {
	region     world.Region
	hasPos1    bool
	hasPos2    bool
	clipboard  *clipboard.Buffer
	clipAnchor world.Position
}

func (s *session) selection() (world.Region, bool) {
	return s.region, s.hasPos1 && s.hasPos2
}

func (m *Manager) sessionLocked(actor string) *session {
	s, ok := m.sessions[actor]
	if !ok {
		s = &session{}
		m.sessions[actor] = s
	}
	return s
}

// SetPos1 sets the first selection corner and returns the selection.
func (m *Manager) SetPos1(actor string, p world.Position) world.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	if !s.hasPos2 {
		s.region = world.NewRegion(p, p)
	}
	s.region.SetPos1(p)
	s.hasPos1 = true
	return s.region
}

// SetPos2 sets the second selection corner and returns the selection.
func (m *Manager) SetPos2(actor string, p world.Position) world.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	if !s.hasPos1 {
		s.region = world.NewRegion(p, p)
	}
	s.region.SetPos2(p)
	s.hasPos2 = true
	return s.region
}

// Select sets both corners at once.
func (m *Manager) Select(actor string, r world.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	s.region = r
	s.hasPos1, s.hasPos2 = true, true
}

func (m *Manager) Selection(actor string) (world.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessionLocked(actor).selection()
	if !ok {
		return world.Region{}, invalid(ReasonSelection, ErrNoSelection)
	}
	return r, nil
}

func (m *Manager) modifySelection(actor string, fn func(r *world.Region)) (world.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	if _, ok := s.selection(); !ok {
		return world.Region{}, invalid(ReasonSelection, ErrNoSelection)
	}
	fn(&s.region)
	return s.region, nil
}

// ExpandSelection grows the selection; negative components grow the
// minimum faces.
func (m *Manager) ExpandSelection(actor string, delta world.Position) (world.Region, error) {
	return m.modifySelection(actor, func(r *world.Region) { r.Expand(delta) })
}

func (m *Manager) ContractSelection(actor string, delta world.Position) (world.Region, error) {
	return m.modifySelection(actor, func(r *world.Region) { r.Contract(delta) })
}

func (m *Manager) ShiftSelection(actor string, delta world.Position) (world.Region, error) {
	return m.modifySelection(actor, func(r *world.Region) { r.Shift(delta) })
}

// Copy reads the selection into the actor's clipboard on the loop goroutine
// and returns the number of cells copied.
func (m *Manager) Copy(ctx context.Context, actor string) (int, error) {
	sel, err := m.Selection(actor)
	if err != nil {
		m.rejected(actor, err)
		return 0, err
	}
	if m.cfg.MaxVolume > 0 && sel.Volume() > m.cfg.MaxVolume {
		err := invalid(ReasonVolume, fmt.Errorf("%w: %d > %d", ErrVolumeExceeded, sel.Volume(), m.cfg.MaxVolume))
		m.rejected(actor, err)
		return 0, err
	}

	var buf *clipboard.Buffer
	if err := m.loop.Do(ctx, func() { buf = clipboard.Copy(m.world, sel) }); err != nil {
		return 0, err
	}

	m.mu.Lock()
	s := m.sessionLocked(actor)
	s.clipboard = buf
	s.clipAnchor = sel.Min()
	m.mu.Unlock()
	return buf.Len(), nil
}

// SetClipboard replaces the actor's clipboard, e.g. with a decoded
// schematic.
func (m *Manager) SetClipboard(actor string, buf *clipboard.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	s.clipboard = buf
	if buf != nil {
		s.clipAnchor = buf.Origin()
	}
}

// Clipboard returns a copy of the actor's clipboard.
func (m *Manager) Clipboard(actor string) (*clipboard.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	if s.clipboard == nil {
		return nil, false
	}
	return s.clipboard.Clone(), true
}

func (m *Manager) withClipboard(actor string, fn func(*clipboard.Buffer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(actor)
	if s.clipboard == nil {
		err := invalid(ReasonClipboard, ErrEmptyClipboard)
		m.rejected(actor, err)
		return err
	}
	return fn(s.clipboard)
}

// Rotate turns the clipboard about the vertical axis by a multiple of 90
// degrees.
func (m *Manager) Rotate(actor string, degrees int) error {
	return m.withClipboard(actor, func(buf *clipboard.Buffer) error {
		if err := buf.Rotate(degrees); err != nil {
			err = invalid(ReasonArgument, err)
			m.rejected(actor, err)
			return err
		}
		return nil
	})
}

// Flip mirrors the clipboard along axis "x", "y" or "z".
func (m *Manager) Flip(actor string, axis string) error {
	return m.withClipboard(actor, func(buf *clipboard.Buffer) error {
		if err := buf.Flip(axis); err != nil {
			err = invalid(ReasonArgument, err)
			m.rejected(actor, err)
			return err
		}
		return nil
	})
}

// Paste places the clipboard with its minimum corner at at.
func (m *Manager) Paste(ctx context.Context, actor string, at world.Position, skipAir bool) (*Job, error) {
	var buf *clipboard.Buffer
	err := m.withClipboard(actor, func(b *clipboard.Buffer) error {
		buf = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Execute(ctx, actor, &operation.Paste{Clipboard: buf, At: at, SkipAir: skipAir})
}

// ParseMask parses mask text; an empty string means no mask.
func (m *Manager) ParseMask(actor, text string) (*mask.Mask, error) {
	if text == "" {
		return nil, nil
	}
	mk, err := mask.Parse(text)
	if err != nil {
		err = invalid(ReasonParse, err)
		m.rejected(actor, err)
		return nil, err
	}
	return mk, nil
}

// ParsePattern parses pattern text with the actor's clipboard available to
// #clipboard.
func (m *Manager) ParsePattern(actor, text string) (*pattern.Pattern, error) {
	m.mu.Lock()
	s := m.sessionLocked(actor)
	pctx := pattern.Context{Anchor: s.clipAnchor, Seed: m.seed}
	if s.clipboard != nil {
		pctx.Clipboard = s.clipboard.Clone()
	}
	m.mu.Unlock()

	p, err := pattern.Parse(text, pctx)
	if err != nil {
		reason := ReasonParse
		if errors.Is(err, pattern.ErrNoClipboard) {
			reason = ReasonClipboard
		}
		err = invalid(reason, err)
		m.rejected(actor, err)
		return nil, err
	}
	return p, nil
}
