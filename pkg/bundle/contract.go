package bundle

import "github.com/riverline-labs/tenor/pkg/tenorerr"

// Provenance records the rule id, stratum, facts read, and verdict types
// read that produced a verdict. It is append-only: once attached to a
// Verdict it is never mutated.
type Provenance struct {
	Rule         string
	Stratum      int
	FactsUsed    []string
	VerdictsUsed []string
}

// Fact declares an identifier, its declared type, and an optional default.
type Fact struct {
	ID      string
	Type    Type
	Default *Value
	// Source is non-nil when this fact can be externally resolved via an
	// adapter (section 4.6); SourceID/Path identify the construct and the
	// protocol-specific path within it.
	Source *FactSource
}

// FactSource is the structured `{ source_id, path }` reference of section
// 4.6, resolved against the contract's Source index.
type FactSource struct {
	SourceID string
	Path     string
}

// FactSet maps fact ids to values; Evaluate requires every declared fact
// to be present (supplied or defaulted).
type FactSet map[string]Value

// Verdict is a (type-tag, payload, provenance) triple produced by exactly
// one rule firing.
type Verdict struct {
	Type       string
	Payload    Value
	Provenance Provenance
}

// VerdictSet is the ordered list of verdicts produced in one evaluation.
type VerdictSet []Verdict

// HasType reports whether any verdict in the set carries the given type.
func (vs VerdictSet) HasType(t string) bool {
	for _, v := range vs {
		if v.Type == t {
			return true
		}
	}
	return false
}

// Transition is a permitted (from, to) state pair for an Entity.
type Transition struct {
	From, To string
}

// Entity declares a closed state space: an ordered set of state names, a
// declared initial state, and the permitted transitions between them.
type Entity struct {
	ID           string
	States       []string
	InitialState string
	Transitions  []Transition
}

// HasState reports whether name is one of the entity's declared states.
func (e *Entity) HasState(name string) bool {
	for _, s := range e.States {
		if s == name {
			return true
		}
	}
	return false
}

// PermitsTransition reports whether (from, to) is a declared transition.
func (e *Entity) PermitsTransition(from, to string) bool {
	for _, t := range e.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Rule is a guarded verdict producer at a fixed, non-negative stratum.
type Rule struct {
	ID        string
	Stratum   int
	Condition Expr
	Produce   ProduceClause
}

// ProduceClause is a rule's verdict type, declared payload type, and
// payload expression — either a Literal or a single Mul form.
type ProduceClause struct {
	VerdictType string
	PayloadType Type
	Payload     Expr
}

// Effect is an entity-state transition an operation declares: entity id,
// source state, target state, and an optional outcome label it is
// associated with on multi-outcome operations.
type Effect struct {
	EntityID string
	From     string
	To       string
	Outcome  string // empty unless the operation has multiple outcomes
}

// Operation is an authorized, preconditioned set of entity-state effects.
type Operation struct {
	ID                string
	AllowedPersonas    []string
	Precondition       Expr // nil means "always true"
	Effects            []Effect
	Outcomes           []string
	ErrorContract      []string
}

// AllowsPersona reports whether persona may invoke this operation.
func (o *Operation) AllowsPersona(persona string) bool {
	for _, p := range o.AllowedPersonas {
		if p == persona {
			return true
		}
	}
	return false
}

// EffectsFor returns the effects this operation declares against entity.
func (o *Operation) EffectsFor(entityID string) []Effect {
	var out []Effect
	for _, e := range o.Effects {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// Persona is an identifier for an authorized role.
type Persona struct {
	ID string
}

// FlowTrigger is a cross-contract flow trigger owned by a System: a
// source contract.flow reaching a trigger condition advances a target
// contract.flow under the given persona.
type FlowTrigger struct {
	SourceContract, SourceFlow string
	Condition                  Expr
	TargetContract, TargetFlow string
	Persona                    string
}

// System groups member contracts, shared personas/entities, and
// cross-contract flow triggers.
type System struct {
	ID              string
	MemberContracts []string
	SharedPersonas  []string
	SharedEntities  []string
	Triggers        []FlowTrigger
}

// Source is the construct a Fact's structured source reference points at:
// a protocol tag plus connection parameters, resolved by the adapter
// registry (section 4.6).
type Source struct {
	ID       string
	Protocol string // "http", "database", "static", "manual"
	Params   map[string]string
}

// Contract is the tuple recovered from an interchange bundle, with O(1)
// lookup by identifier via side indexes built once at load time.
type Contract struct {
	ID           string
	TenorVersion string

	facts      map[string]*Fact
	entities   map[string]*Entity
	rules      map[string]*Rule
	operations map[string]*Operation
	flows      map[string]*Flow
	personas   map[string]*Persona
	systems    map[string]*System
	sources    map[string]*Source
	types      map[string]*Type

	factOrder      []string
	entityOrder    []string
	ruleOrder      []string
	operationOrder []string
	flowOrder      []string
	sourceOrder    []string
}

func newContract(id, tenorVersion string) *Contract {
	return &Contract{
		ID:           id,
		TenorVersion: tenorVersion,
		facts:        map[string]*Fact{},
		entities:     map[string]*Entity{},
		rules:        map[string]*Rule{},
		operations:   map[string]*Operation{},
		flows:        map[string]*Flow{},
		personas:     map[string]*Persona{},
		systems:      map[string]*System{},
		sources:      map[string]*Source{},
		types:        map[string]*Type{},
	}
}

func (c *Contract) Fact(id string) (*Fact, bool)           { f, ok := c.facts[id]; return f, ok }
func (c *Contract) Entity(id string) (*Entity, bool)       { e, ok := c.entities[id]; return e, ok }
func (c *Contract) Rule(id string) (*Rule, bool)           { r, ok := c.rules[id]; return r, ok }
func (c *Contract) Operation(id string) (*Operation, bool) { o, ok := c.operations[id]; return o, ok }
func (c *Contract) Flow(id string) (*Flow, bool)           { f, ok := c.flows[id]; return f, ok }
func (c *Contract) Persona(id string) (*Persona, bool)     { p, ok := c.personas[id]; return p, ok }
func (c *Contract) System(id string) (*System, bool)       { s, ok := c.systems[id]; return s, ok }
func (c *Contract) Source(id string) (*Source, bool)       { s, ok := c.sources[id]; return s, ok }
func (c *Contract) Type(id string) (*Type, bool)           { t, ok := c.types[id]; return t, ok }

// Facts, Entities, Rules, Operations, and Flows return constructs in the
// order they were declared in the bundle (construct array order), used by
// deterministic iteration (e.g. migration diff, path enumeration output).
func (c *Contract) Facts() []*Fact {
	out := make([]*Fact, 0, len(c.factOrder))
	for _, id := range c.factOrder {
		out = append(out, c.facts[id])
	}
	return out
}

func (c *Contract) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.entityOrder))
	for _, id := range c.entityOrder {
		out = append(out, c.entities[id])
	}
	return out
}

func (c *Contract) Rules() []*Rule {
	out := make([]*Rule, 0, len(c.ruleOrder))
	for _, id := range c.ruleOrder {
		out = append(out, c.rules[id])
	}
	return out
}

func (c *Contract) Operations() []*Operation {
	out := make([]*Operation, 0, len(c.operationOrder))
	for _, id := range c.operationOrder {
		out = append(out, c.operations[id])
	}
	return out
}

func (c *Contract) Flows() []*Flow {
	out := make([]*Flow, 0, len(c.flowOrder))
	for _, id := range c.flowOrder {
		out = append(out, c.flows[id])
	}
	return out
}

func (c *Contract) Sources() []*Source {
	out := make([]*Source, 0, len(c.sourceOrder))
	for _, id := range c.sourceOrder {
		out = append(out, c.sources[id])
	}
	return out
}

func (c *Contract) addFact(f *Fact) error {
	if _, exists := c.facts[f.ID]; exists {
		return tenorerr.New(tenorerr.KindDeserialize, "duplicate fact id %q", f.ID).WithConstruct("Fact", f.ID)
	}
	c.facts[f.ID] = f
	c.factOrder = append(c.factOrder, f.ID)
	return nil
}

func (c *Contract) addEntity(e *Entity) error {
	if _, exists := c.entities[e.ID]; exists {
		return tenorerr.New(tenorerr.KindDeserialize, "duplicate entity id %q", e.ID).WithConstruct("Entity", e.ID)
	}
	c.entities[e.ID] = e
	c.entityOrder = append(c.entityOrder, e.ID)
	return nil
}

func (c *Contract) addRule(r *Rule) error {
	if _, exists := c.rules[r.ID]; exists {
		return tenorerr.New(tenorerr.KindDeserialize, "duplicate rule id %q", r.ID).WithConstruct("Rule", r.ID)
	}
	c.rules[r.ID] = r
	c.ruleOrder = append(c.ruleOrder, r.ID)
	return nil
}

func (c *Contract) addOperation(o *Operation) error {
	if _, exists := c.operations[o.ID]; exists {
		return tenorerr.New(tenorerr.KindDeserialize, "duplicate operation id %q", o.ID).WithConstruct("Operation", o.ID)
	}
	c.operations[o.ID] = o
	c.operationOrder = append(c.operationOrder, o.ID)
	return nil
}

func (c *Contract) addFlow(f *Flow) error {
	if _, exists := c.flows[f.ID]; exists {
		return tenorerr.New(tenorerr.KindDeserialize, "duplicate flow id %q", f.ID).WithConstruct("Flow", f.ID)
	}
	c.flows[f.ID] = f
	c.flowOrder = append(c.flowOrder, f.ID)
	return nil
}

func (c *Contract) addPersona(p *Persona) error {
	c.personas[p.ID] = p
	return nil
}

func (c *Contract) addSystem(s *System) error {
	c.systems[s.ID] = s
	return nil
}

func (c *Contract) addSource(s *Source) error {
	c.sources[s.ID] = s
	c.sourceOrder = append(c.sourceOrder, s.ID)
	return nil
}

func (c *Contract) addType(id string, t *Type) error {
	c.types[id] = t
	return nil
}
