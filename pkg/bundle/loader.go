package bundle

import (
	"bytes"
	"encoding/json"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Loaded is the result of loading a bundle: the typed Contract plus its
// deterministic etag (section 6.2).
type Loaded struct {
	Contract *Contract
	Etag     string
}

// Load parses raw interchange bundle JSON (section 6.1) into a Contract.
// Unknown construct kinds are silently skipped for forward compatibility;
// unknown expression operators fail load with Deserialize (section 6.1,
// and the open question preserved in section 9).
func Load(raw []byte) (*Loaded, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, tenorerr.Wrap(tenorerr.KindDeserialize, err, "invalid bundle JSON")
	}

	if err := ValidateEnvelope(doc); err != nil {
		return nil, tenorerr.Wrap(tenorerr.KindDeserialize, err, "bundle failed envelope validation")
	}

	etag, err := Etag(raw)
	if err != nil {
		return nil, tenorerr.Wrap(tenorerr.KindDeserialize, err, "failed to compute bundle etag")
	}

	id, _ := doc["id"].(string)
	tenorVersion, _ := doc["tenor_version"].(string)
	contract := newContract(id, tenorVersion)

	constructsRaw, _ := doc["constructs"].([]any)
	constructs := make([]map[string]any, 0, len(constructsRaw))
	for _, c := range constructsRaw {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "construct entry is not an object")
		}
		constructs = append(constructs, m)
	}

	idx := typeIndex{}
	// TypeDecl constructs must be resolved before anything that might
	// reference them via TypeRef.
	for _, c := range constructs {
		if kindOf(c) != "TypeDecl" {
			continue
		}
		id, _ := c["id"].(string)
		typeRaw, ok := c["type"].(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "TypeDecl %q missing type", id).WithConstruct("TypeDecl", id)
		}
		t, err := decodeType(typeRaw, idx)
		if err != nil {
			return nil, err
		}
		idx[id] = t
		if err := contract.addType(id, &t); err != nil {
			return nil, err
		}
	}

	for _, c := range constructs {
		switch kindOf(c) {
		case "TypeDecl":
			// already handled above
		case "Fact":
			f, err := decodeFact(c, idx)
			if err != nil {
				return nil, err
			}
			if err := contract.addFact(f); err != nil {
				return nil, err
			}
		case "Entity":
			e, err := decodeEntity(c)
			if err != nil {
				return nil, err
			}
			if err := contract.addEntity(e); err != nil {
				return nil, err
			}
		case "Rule":
			r, err := decodeRule(c, idx)
			if err != nil {
				return nil, err
			}
			if err := contract.addRule(r); err != nil {
				return nil, err
			}
		case "Operation":
			o, err := decodeOperation(c, idx)
			if err != nil {
				return nil, err
			}
			if err := contract.addOperation(o); err != nil {
				return nil, err
			}
		case "Flow":
			fl, err := decodeFlow(c, idx)
			if err != nil {
				return nil, err
			}
			if err := contract.addFlow(fl); err != nil {
				return nil, err
			}
		case "Persona":
			id, _ := c["id"].(string)
			if err := contract.addPersona(&Persona{ID: id}); err != nil {
				return nil, err
			}
		case "System":
			s, err := decodeSystem(c)
			if err != nil {
				return nil, err
			}
			if err := contract.addSystem(s); err != nil {
				return nil, err
			}
		case "Source":
			s, err := decodeSource(c)
			if err != nil {
				return nil, err
			}
			if err := contract.addSource(s); err != nil {
				return nil, err
			}
		default:
			// Unknown construct kinds are silently skipped — section 6.1
			// forward-compatibility rule.
		}
	}

	return &Loaded{Contract: contract, Etag: etag}, nil
}

func kindOf(c map[string]any) string {
	k, _ := c["kind"].(string)
	return k
}

func decodeFact(c map[string]any, idx typeIndex) (*Fact, error) {
	id, _ := c["id"].(string)
	typeRaw, ok := c["type"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Fact %q missing type", id).WithConstruct("Fact", id)
	}
	t, err := decodeType(typeRaw, idx)
	if err != nil {
		return nil, err
	}
	f := &Fact{ID: id, Type: t}
	if defRaw, ok := c["default"]; ok && defRaw != nil {
		v, err := DecodeValue(defRaw, t)
		if err != nil {
			return nil, err
		}
		f.Default = &v
	}
	if srcRaw, ok := c["source"].(map[string]any); ok {
		sourceID, _ := srcRaw["source_id"].(string)
		path, _ := srcRaw["path"].(string)
		f.Source = &FactSource{SourceID: sourceID, Path: path}
	}
	return f, nil
}

func decodeEntity(c map[string]any) (*Entity, error) {
	id, _ := c["id"].(string)
	states, err := asStringSlice(c["states"])
	if err != nil {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Entity %q states: %s", id, err).WithConstruct("Entity", id)
	}
	initial, _ := c["initial_state"].(string)
	transitionsRaw, _ := c["transitions"].([]any)
	transitions := make([]Transition, 0, len(transitionsRaw))
	for _, tr := range transitionsRaw {
		m, ok := tr.(map[string]any)
		if !ok {
			continue
		}
		from, _ := m["from"].(string)
		to, _ := m["to"].(string)
		transitions = append(transitions, Transition{From: from, To: to})
	}
	return &Entity{ID: id, States: states, InitialState: initial, Transitions: transitions}, nil
}

func decodeRule(c map[string]any, idx typeIndex) (*Rule, error) {
	id, _ := c["id"].(string)
	stratum, err := decodeJSONInt(c["stratum"])
	if err != nil {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Rule %q missing stratum", id).WithConstruct("Rule", id)
	}
	condRaw, ok := c["condition"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Rule %q missing condition", id).WithConstruct("Rule", id)
	}
	cond, err := decodeExpr(condRaw, idx)
	if err != nil {
		return nil, err
	}
	produceRaw, ok := c["produce"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Rule %q missing produce", id).WithConstruct("Rule", id)
	}
	verdictType, _ := produceRaw["verdict_type"].(string)
	payloadTypeRaw, ok := produceRaw["payload_type"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Rule %q produce missing payload_type", id).WithConstruct("Rule", id)
	}
	payloadType, err := decodeType(payloadTypeRaw, idx)
	if err != nil {
		return nil, err
	}
	payloadExprRaw, ok := produceRaw["payload"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Rule %q produce missing payload expression", id).WithConstruct("Rule", id)
	}
	payloadExpr, err := decodeExpr(payloadExprRaw, idx)
	if err != nil {
		return nil, err
	}
	return &Rule{
		ID:        id,
		Stratum:   int(stratum),
		Condition: cond,
		Produce: ProduceClause{
			VerdictType: verdictType,
			PayloadType: payloadType,
			Payload:     payloadExpr,
		},
	}, nil
}

func decodeOperation(c map[string]any, idx typeIndex) (*Operation, error) {
	id, _ := c["id"].(string)
	personas, _ := asStringSlice(c["allowed_personas"])
	outcomes, _ := asStringSlice(c["outcomes"])
	errContract, _ := asStringSlice(c["error_contract"])

	var precondition Expr
	if precRaw, ok := c["precondition"].(map[string]any); ok {
		p, err := decodeExpr(precRaw, idx)
		if err != nil {
			return nil, err
		}
		precondition = p
	}

	effectsRaw, _ := c["effects"].([]any)
	effects := make([]Effect, 0, len(effectsRaw))
	for _, er := range effectsRaw {
		m, ok := er.(map[string]any)
		if !ok {
			continue
		}
		entityID, _ := m["entity_id"].(string)
		from, _ := m["from"].(string)
		to, _ := m["to"].(string)
		outcome, _ := m["outcome"].(string)
		effects = append(effects, Effect{EntityID: entityID, From: from, To: to, Outcome: outcome})
	}

	return &Operation{
		ID:              id,
		AllowedPersonas: personas,
		Precondition:    precondition,
		Effects:         effects,
		Outcomes:        outcomes,
		ErrorContract:   errContract,
	}, nil
}

func decodeSystem(c map[string]any) (*System, error) {
	id, _ := c["id"].(string)
	members, _ := asStringSlice(c["member_contracts"])
	personas, _ := asStringSlice(c["shared_personas"])
	entities, _ := asStringSlice(c["shared_entities"])

	triggersRaw, _ := c["triggers"].([]any)
	triggers := make([]FlowTrigger, 0, len(triggersRaw))
	for _, tr := range triggersRaw {
		m, ok := tr.(map[string]any)
		if !ok {
			continue
		}
		t := FlowTrigger{
			SourceContract: strField(m, "source_contract"),
			SourceFlow:     strField(m, "source_flow"),
			TargetContract: strField(m, "target_contract"),
			TargetFlow:     strField(m, "target_flow"),
			Persona:        strField(m, "persona"),
		}
		if condRaw, ok := m["condition"].(map[string]any); ok {
			cond, err := decodeExpr(condRaw, typeIndex{})
			if err != nil {
				return nil, err
			}
			t.Condition = cond
		}
		triggers = append(triggers, t)
	}

	return &System{ID: id, MemberContracts: members, SharedPersonas: personas, SharedEntities: entities, Triggers: triggers}, nil
}

func decodeSource(c map[string]any) (*Source, error) {
	id, _ := c["id"].(string)
	protocol := strField(c, "protocol")
	params := map[string]string{}
	if paramsRaw, ok := c["params"].(map[string]any); ok {
		for k, v := range paramsRaw {
			if s, ok := v.(string); ok {
				params[k] = s
			}
		}
	}
	return &Source{ID: id, Protocol: protocol, Params: params}, nil
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
