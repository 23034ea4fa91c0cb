package terminal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bytedance/sonic"
)

// ErrUnknownSetting is returned for a meta setting key that does not exist
var ErrUnknownSetting = errors.New("unknown meta setting")

// Meta setting keys
const (
	SettingLoose      = "loose"
	SettingRerun      = "rerun"
	SettingCtrlC      = "ctrlc"
	SettingHalt       = "halt"
	SettingDelay      = "delay"
	SettingSequencing = "sequencing"
)

// UpdateCwd changes the working directory used by the next start
func (s *Session) UpdateCwd(cwd string) error {
	cwd = strings.TrimSpace(cwd)
	if err := utils.ValidatePath(cwd, "cwd", false); err != nil {
		return err
	}
	s.mutate(history.KindCwd, func(t *types.Terminal) string {
		prev := t.Command.Cwd
		t.Command.Cwd = cwd
		return prev
	})
	return nil
}

// UpdateCommand changes the command line
func (s *Session) UpdateCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if err := utils.ValidateString(cmd, "command", 0, utils.MaxCommandSize, false); err != nil {
		return err
	}
	s.mutate(history.KindCommand, func(t *types.Terminal) string {
		prev := t.Command.Cmd
		t.Command.Cmd = cmd
		return prev
	})
	return nil
}

// ChangeShell sets the shell; empty selects the platform default
func (s *Session) ChangeShell(sh string) error {
	sh = strings.TrimSpace(sh)
	if err := utils.ValidatePath(sh, "shell", false); err != nil {
		return err
	}
	s.mutate(history.KindShell, func(t *types.Terminal) string {
		prev := t.Command.Shell
		t.Command.Shell = sh
		return prev
	})
	return nil
}

// ChangeTitle renames the terminal. Markup is stripped.
func (s *Session) ChangeTitle(title string) error {
	title = utils.SanitizeTitle(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	s.mutate("", func(t *types.Terminal) string {
		t.Title = title
		return ""
	})
	return nil
}

// SetHealth replaces the startup gate. A zero delay and empty check clear it.
func (s *Session) SetHealth(delay int, healthCheck string) error {
	if delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	healthCheck = strings.TrimSpace(healthCheck)
	if err := utils.ValidateString(healthCheck, "healthCheck", 0, utils.MaxCommandSize, false); err != nil {
		return err
	}

	s.mutate(history.KindHealthCheck, func(t *types.Terminal) string {
		prev := ""
		if t.Health != nil {
			prev = t.Health.HealthCheck
		}
		health := &types.Health{Delay: delay, HealthCheck: healthCheck}
		if health.IsEmpty() {
			health = nil
		}
		t.Health = health
		return prev
	})
	return nil
}

// SetExecutionOrder sets the scheduling position; nil makes it unordered
func (s *Session) SetExecutionOrder(order *int) {
	s.mutate("", func(t *types.Terminal) string {
		if order == nil {
			t.ExecutionOrder = nil
		} else {
			v := *order
			t.ExecutionOrder = &v
		}
		return ""
	})
}

type sequencingPatch struct {
	Index int    `json:"index"`
	Echo  string `json:"echo"`
}

// SetMetaSetting applies one meta setting from its JSON value. Booleans set
// or clear a flag, delay takes milliseconds with zero clearing it, and
// sequencing takes a boolean or an {index, echo} patch for a recorded step.
// The meta settings block is dropped once nothing is left in it.
func (s *Session) SetMetaSetting(key string, raw []byte) error {
	var apply func(meta *types.MetaSettings) error

	switch key {
	case SettingLoose, SettingRerun, SettingCtrlC, SettingHalt:
		var on bool
		if err := sonic.Unmarshal(raw, &on); err != nil {
			return fmt.Errorf("%s expects a boolean: %w", key, err)
		}
		apply = func(meta *types.MetaSettings) error {
			*flag(meta, key) = on
			return nil
		}

	case SettingDelay:
		var ms int
		if err := sonic.Unmarshal(raw, &ms); err != nil {
			return fmt.Errorf("delay expects milliseconds: %w", err)
		}
		if ms < 0 {
			return fmt.Errorf("delay must not be negative")
		}
		apply = func(meta *types.MetaSettings) error {
			meta.Delay = ms
			return nil
		}

	case SettingSequencing:
		var on bool
		if err := sonic.Unmarshal(raw, &on); err == nil {
			apply = func(meta *types.MetaSettings) error {
				switch {
				case !on:
					meta.Sequencing = nil
				case meta.Sequencing == nil:
					meta.Sequencing = []types.SequenceStep{}
				}
				return nil
			}
			break
		}

		var patch sequencingPatch
		if err := sonic.Unmarshal(raw, &patch); err != nil {
			return fmt.Errorf("sequencing expects a boolean or an {index, echo} object: %w", err)
		}
		apply = func(meta *types.MetaSettings) error {
			for i := range meta.Sequencing {
				if meta.Sequencing[i].Index == patch.Index {
					meta.Sequencing[i].Echo = strings.TrimSpace(patch.Echo)
					return nil
				}
			}
			return fmt.Errorf("no sequencing step at index %d", patch.Index)
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	s.mu.Lock()
	meta := s.record.MetaSettings
	if meta == nil {
		meta = &types.MetaSettings{}
	}
	if err := apply(meta); err != nil {
		s.mu.Unlock()
		return err
	}
	if meta.IsEmpty() {
		meta = nil
	}
	s.record.MetaSettings = meta
	rerun := meta != nil && meta.Rerun
	s.mu.Unlock()

	if !rerun {
		s.rerun.Cancel()
	}
	s.emitState()
	s.persist()
	return nil
}

func flag(meta *types.MetaSettings, key string) *bool {
	switch key {
	case SettingLoose:
		return &meta.Loose
	case SettingRerun:
		return &meta.Rerun
	case SettingCtrlC:
		return &meta.CtrlC
	default:
		return &meta.Halt
	}
}

// mutate applies fn to the record, files the previous value returned by fn
// under kind, then broadcasts and persists
func (s *Session) mutate(kind history.Kind, fn func(t *types.Terminal) string) {
	s.mu.Lock()
	prev := fn(s.record)
	s.mu.Unlock()

	if kind != "" {
		s.history.Record(kind, prev)
	}
	s.emitState()
	s.persist()
}

// Environment edits on the terminal's own sets. Each broadcasts and persists
// on success.

// AddEnvironmentSet appends a set to the terminal
func (s *Session) AddEnvironmentSet(title string, pairs map[string]string) types.EnvironmentSet {
	set := s.env.AddSet(s.id, title, pairs)
	s.changed()
	return set
}

// RemoveEnvironmentSet deletes the set at order
func (s *Session) RemoveEnvironmentSet(order int) error {
	return s.envChange(s.env.RemoveSet(s.id, order))
}

// EditEnvironment upserts or renames a key
func (s *Session) EditEnvironment(order int, key, value, previousKey string) error {
	if strings.TrimSpace(key) != "" {
		if err := utils.ValidateEnvKey(strings.TrimSpace(key)); err != nil {
			return err
		}
	}
	return s.envChange(s.env.Edit(s.id, order, key, value, previousKey))
}

// FlushEnvironment replaces the pairs of the set at order
func (s *Session) FlushEnvironment(order int, pairs map[string]string) error {
	if err := utils.ValidateEnvPairs(pairs); err != nil {
		return err
	}
	return s.envChange(s.env.Flush(s.id, order, pairs))
}

// MuteEnvironment toggles a key, or the whole set when key is empty
func (s *Session) MuteEnvironment(order int, key string) error {
	return s.envChange(s.env.Mute(s.id, order, key))
}

// RemoveEnvironmentKey deletes a key from a set
func (s *Session) RemoveEnvironmentKey(order int, key string) error {
	return s.envChange(s.env.RemoveKey(s.id, order, key))
}

func (s *Session) envChange(err error) error {
	if err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Session) changed() {
	s.emitState()
	s.persist()
}
