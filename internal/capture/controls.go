package capture

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// Control is one user control of the device with its current value.
type Control struct {
	ID       uint32 `json:"id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Min      int32  `json:"min"`
	Max      int32  `json:"max"`
	Step     int32  `json:"step"`
	Default  int32  `json:"default"`
	Value    int32  `json:"value"`
	ReadOnly bool   `json:"read_only"`
	Inactive bool   `json:"inactive"`
}

// Controls lazily enumerates the device's controls with their current
// values. Disabled controls and class headers are skipped, as are types
// without a readable value.
func (n *Negotiator) Controls() iter.Seq2[Control, error] {
	return func(yield func(Control, error) bool) {
		id := uint32(0)
		for {
			q, err := n.dev.QueryControl(id | v4l2.CtrlFlagNextCtrl)
			if errors.Is(err, v4l2.ErrEndOfEnumeration) {
				return
			}
			if err != nil {
				yield(Control{}, newError(ErrControl, "queryctrl", n.path, err))
				return
			}
			// Drivers that ignore the next-control flag would loop forever.
			if q.ID <= id {
				return
			}
			id = q.ID
			if q.Disabled() || !q.HasValue() {
				continue
			}
			c, err := n.read(q)
			if !yield(c, err) || err != nil {
				return
			}
		}
	}
}

// Control looks a control up by its key ("brightness") or its numeric id,
// decimal or 0x-prefixed.
func (n *Negotiator) Control(key string) (Control, error) {
	if id, err := strconv.ParseUint(key, 0, 32); err == nil {
		q, err := n.dev.QueryControl(uint32(id))
		if errors.Is(err, v4l2.ErrEndOfEnumeration) || (err == nil && q.Disabled()) {
			return Control{}, newError(ErrControl, "queryctrl", n.path, fmt.Errorf("%s: %w", key, ErrUnknownControl))
		}
		if err != nil {
			return Control{}, newError(ErrControl, "queryctrl", n.path, err)
		}
		return n.read(q)
	}
	for c, err := range n.Controls() {
		if err != nil {
			return Control{}, err
		}
		if c.Key == key {
			return c, nil
		}
	}
	return Control{}, newError(ErrControl, "queryctrl", n.path, fmt.Errorf("%s: %w", key, ErrUnknownControl))
}

// SetControl writes value and reads the control back, since drivers clamp
// and round.
func (n *Negotiator) SetControl(id uint32, value int32) (Control, error) {
	if err := n.dev.SetControl(id, value); err != nil {
		return Control{}, newError(ErrControl, "s_ctrl", n.path, err)
	}
	q, err := n.dev.QueryControl(id)
	if err != nil {
		return Control{}, newError(ErrControl, "queryctrl", n.path, err)
	}
	return n.read(q)
}

func (n *Negotiator) read(q v4l2.QueryControl) (Control, error) {
	c := Control{
		ID:       q.ID,
		Key:      q.Key(),
		Name:     q.Name,
		Type:     q.Type.String(),
		Min:      q.Minimum,
		Max:      q.Maximum,
		Step:     q.Step,
		Default:  q.Default,
		ReadOnly: q.ReadOnly(),
		Inactive: q.Inactive(),
	}
	if !q.HasValue() {
		return c, nil
	}
	v, err := n.dev.GetControl(q.ID)
	if err != nil {
		return Control{}, newError(ErrControl, "g_ctrl", n.path, err)
	}
	c.Value = v
	return c, nil
}

// Controls lists the device's user controls.
func (s *Session) Controls() ([]Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, newError(ErrInvalidState, "controls", s.path, errors.New("session closed"))
	}
	out := []Control{}
	for c, err := range s.neg.Controls() {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Control returns one control by key or numeric id.
func (s *Session) Control(key string) (Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Control{}, newError(ErrInvalidState, "controls", s.path, errors.New("session closed"))
	}
	return s.neg.Control(key)
}

// SetControl sets a control by key or numeric id and returns it as the
// driver left it. Controls may change while streaming.
func (s *Session) SetControl(key string, value int32) (Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Control{}, newError(ErrInvalidState, "s_ctrl", s.path, errors.New("session closed"))
	}
	c, err := s.neg.Control(key)
	if err != nil {
		return Control{}, err
	}
	if c.ReadOnly {
		return Control{}, newError(ErrControl, "s_ctrl", s.path, fmt.Errorf("%s is read-only", c.Key))
	}
	return s.setControlLocked(c.ID, value)
}

// SetAutoWhiteBalance turns automatic white balance on or off.
func (s *Session) SetAutoWhiteBalance(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(ErrInvalidState, "s_ctrl", s.path, errors.New("session closed"))
	}
	var v int32
	if on {
		v = 1
	}
	_, err := s.setControlLocked(v4l2.CIDAutoWhiteBalance, v)
	return err
}

func (s *Session) setControlLocked(id uint32, value int32) (Control, error) {
	c, err := s.neg.SetControl(id, value)
	if err != nil {
		return Control{}, err
	}
	s.logger.Info("Control changed", "control", c.Key, "requested", value, "value", c.Value)
	s.opts.Bus.Publish(events.ControlChangedEvent{
		SessionID:  s.id,
		DevicePath: s.path,
		ControlID:  c.ID,
		Control:    c.Key,
		Value:      c.Value,
		Timestamp:  time.Now(),
	})
	return c, nil
}
