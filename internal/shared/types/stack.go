package types

// Stack is the persisted record of a palette: a named, ordered group of terminals
type Stack struct {
	ID              string           `json:"id" yaml:"id" toml:"id"`
	Name            string           `json:"name" yaml:"name" toml:"name"`
	Terminals       []*Terminal      `json:"terminals" yaml:"terminals" toml:"terminals"`
	EnvironmentSets []EnvironmentSet `json:"environmentSets,omitempty" yaml:"environmentSets,omitempty" toml:"environmentSets,omitempty"`
}

// Terminal is the persisted record of one unit of work
type Terminal struct {
	ID             string        `json:"id" yaml:"id" toml:"id"`
	Title          string        `json:"title" yaml:"title" toml:"title"`
	ExecutionOrder *int          `json:"executionOrder,omitempty" yaml:"executionOrder,omitempty" toml:"executionOrder,omitempty"`
	Command        Command       `json:"command" yaml:"command" toml:"command"`
	MetaSettings   *MetaSettings `json:"metaSettings,omitempty" yaml:"metaSettings,omitempty" toml:"metaSettings,omitempty"`
	Health         *Health       `json:"health,omitempty" yaml:"health,omitempty" toml:"health,omitempty"`
}

// Command describes what a terminal runs and where
type Command struct {
	Cmd   string           `json:"cmd" yaml:"cmd" toml:"cmd"`
	Cwd   string           `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`
	Shell string           `json:"shell,omitempty" yaml:"shell,omitempty" toml:"shell,omitempty"`
	Env   []EnvironmentSet `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// MetaSettings holds the optional per-terminal behavior switches.
// A nil Sequencing slice means sequencing is off; an empty non-nil slice
// means it is on and still recording.
type MetaSettings struct {
	Loose      bool           `json:"loose,omitempty" yaml:"loose,omitempty" toml:"loose,omitempty"`
	Rerun      bool           `json:"rerun,omitempty" yaml:"rerun,omitempty" toml:"rerun,omitempty"`
	CtrlC      bool           `json:"ctrlc,omitempty" yaml:"ctrlc,omitempty" toml:"ctrlc,omitempty"`
	Halt       bool           `json:"halt,omitempty" yaml:"halt,omitempty" toml:"halt,omitempty"`
	Delay      int            `json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay,omitempty"`
	Sequencing []SequenceStep `json:"sequencing" yaml:"sequencing" toml:"sequencing,omitempty"`
}

// IsEmpty reports whether every setting is unset
func (m *MetaSettings) IsEmpty() bool {
	return m == nil || (!m.Loose && !m.Rerun && !m.CtrlC && !m.Halt && m.Delay == 0 && m.Sequencing == nil)
}

// SequenceStep is one recorded reply, keyed by output-line index
type SequenceStep struct {
	Index   int    `json:"index" yaml:"index" toml:"index"`
	Message string `json:"message" yaml:"message" toml:"message"`
	Echo    string `json:"echo,omitempty" yaml:"echo,omitempty" toml:"echo,omitempty"`
}

// Health is the startup gate of a terminal
type Health struct {
	Delay       int    `json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay,omitempty"`
	HealthCheck string `json:"healthCheck,omitempty" yaml:"healthCheck,omitempty" toml:"healthCheck,omitempty"`
}

// IsEmpty reports whether no gate is configured
func (h *Health) IsEmpty() bool {
	return h == nil || (h.Delay <= 0 && h.HealthCheck == "")
}

// EnvironmentSet is one layer of environment variables owned by a stack or terminal.
// Higher Order wins when keys collide. Disabled keys are masked at bake time
// but kept in Pairs.
type EnvironmentSet struct {
	Title    string            `json:"title" yaml:"title" toml:"title"`
	Pairs    map[string]string `json:"pairs" yaml:"pairs" toml:"pairs"`
	Order    int               `json:"order" yaml:"order" toml:"order"`
	Disabled []string          `json:"disabled" yaml:"disabled" toml:"disabled"`
}

// IsDisabled reports whether key is masked
func (e *EnvironmentSet) IsDisabled(key string) bool {
	for _, k := range e.Disabled {
		if k == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (e EnvironmentSet) Clone() EnvironmentSet {
	pairs := make(map[string]string, len(e.Pairs))
	for k, v := range e.Pairs {
		pairs[k] = v
	}
	disabled := make([]string, len(e.Disabled))
	copy(disabled, e.Disabled)
	return EnvironmentSet{Title: e.Title, Pairs: pairs, Order: e.Order, Disabled: disabled}
}

// CloneSets deep-copies a list of sets
func CloneSets(sets []EnvironmentSet) []EnvironmentSet {
	if sets == nil {
		return nil
	}
	out := make([]EnvironmentSet, len(sets))
	for i, s := range sets {
		out[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of the terminal record
func (t *Terminal) Clone() *Terminal {
	if t == nil {
		return nil
	}
	c := *t
	if t.ExecutionOrder != nil {
		order := *t.ExecutionOrder
		c.ExecutionOrder = &order
	}
	c.Command.Env = CloneSets(t.Command.Env)
	if t.MetaSettings != nil {
		meta := *t.MetaSettings
		if t.MetaSettings.Sequencing != nil {
			meta.Sequencing = make([]SequenceStep, len(t.MetaSettings.Sequencing))
			copy(meta.Sequencing, t.MetaSettings.Sequencing)
		}
		c.MetaSettings = &meta
	}
	if t.Health != nil {
		health := *t.Health
		c.Health = &health
	}
	return &c
}

// Clone returns a deep copy of the stack record
func (s *Stack) Clone() *Stack {
	if s == nil {
		return nil
	}
	c := &Stack{
		ID:              s.ID,
		Name:            s.Name,
		Terminals:       make([]*Terminal, len(s.Terminals)),
		EnvironmentSets: CloneSets(s.EnvironmentSets),
	}
	for i, t := range s.Terminals {
		c.Terminals[i] = t.Clone()
	}
	return c
}
