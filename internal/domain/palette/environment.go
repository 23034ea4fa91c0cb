package palette

import (
	"strings"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
)

// AddEnvironmentSet appends a stack-level set
func (p *Palette) AddEnvironmentSet(title string, pairs map[string]string) types.EnvironmentSet {
	set := p.deps.Env.AddSet(p.id, title, pairs)
	p.envChanged()
	return set
}

// RemoveEnvironmentSet deletes a stack-level set
func (p *Palette) RemoveEnvironmentSet(order int) error {
	return p.envResult(p.deps.Env.RemoveSet(p.id, order))
}

// EditEnvironment upserts or renames a key in a stack-level set
func (p *Palette) EditEnvironment(order int, key, value, previousKey string) error {
	if k := strings.TrimSpace(key); k != "" {
		if err := utils.ValidateEnvKey(k); err != nil {
			return err
		}
	}
	return p.envResult(p.deps.Env.Edit(p.id, order, key, value, previousKey))
}

// FlushEnvironment replaces the pairs of a stack-level set
func (p *Palette) FlushEnvironment(order int, pairs map[string]string) error {
	if err := utils.ValidateEnvPairs(pairs); err != nil {
		return err
	}
	return p.envResult(p.deps.Env.Flush(p.id, order, pairs))
}

// MuteEnvironment toggles a key, or a whole stack-level set when key is empty
func (p *Palette) MuteEnvironment(order int, key string) error {
	return p.envResult(p.deps.Env.Mute(p.id, order, key))
}

// RemoveEnvironmentKey deletes a key from a stack-level set
func (p *Palette) RemoveEnvironmentKey(order int, key string) error {
	return p.envResult(p.deps.Env.RemoveKey(p.id, order, key))
}

// EnvironmentSets returns the stack-level sets
func (p *Palette) EnvironmentSets() []types.EnvironmentSet {
	return p.deps.Env.Sets(p.id)
}

func (p *Palette) envResult(err error) error {
	if err != nil {
		return err
	}
	p.envChanged()
	return nil
}

func (p *Palette) envChanged() {
	p.publishSettings()
	p.persist()
}
