// Command tenorctl is a thin demonstration harness over the core
// packages: load a bundle, supply facts, evaluate rules, drive a flow,
// compute a persona's action space, diff two bundle versions, and run a
// migration plan — the same dispatcher shape as the teacher's cmd/helm,
// trimmed to Tenor's operations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/riverline-labs/tenor/pkg/actionspace"
	"github.com/riverline-labs/tenor/pkg/archive"
	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/config"
	"github.com/riverline-labs/tenor/pkg/fact"
	"github.com/riverline-labs/tenor/pkg/flow"
	"github.com/riverline-labs/tenor/pkg/migration"
	"github.com/riverline-labs/tenor/pkg/rules"
	"github.com/riverline-labs/tenor/pkg/storage"
	"github.com/riverline-labs/tenor/pkg/storage/memory"
	"github.com/riverline-labs/tenor/pkg/telemetry"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never touches os.Exit directly so
// a test can assert on stdout/stderr and the returned code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, usage())
		return 2
	}

	switch args[1] {
	case "evaluate":
		return runEvaluate(args[2:], stdout, stderr)
	case "flow":
		return runFlow(args[2:], stdout, stderr)
	case "actions":
		return runActions(args[2:], stdout, stderr)
	case "diff":
		return runDiff(args[2:], stdout, stderr)
	case "migrate":
		return runMigrate(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "tenorctl: unknown subcommand %q\n%s\n", args[1], usage())
		return 2
	}
}

func usage() string {
	return "Usage: tenorctl <evaluate|flow|actions|diff|migrate> [flags]"
}

func newTelemetry(ctx context.Context) *telemetry.Provider {
	cfg := config.Load()
	prov, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTLPEndpoint != "",
		SampleRate:   1.0,
	})
	if err != nil {
		prov, _ = telemetry.New(ctx, telemetry.DefaultConfig())
	}
	return prov
}

// archiveRecord is a best-effort write-through archive: a caller with no
// -archive-dir set gets the normal command output and nothing more; one
// that sets it gets the archived record's content hash printed to
// stderr, alongside the usual stdout output, so tenorctl stays scriptable
// either way.
func archiveRecord(ctx context.Context, dir, kind string, payload any, stderr io.Writer) {
	if dir == "" {
		return
	}
	store, err := archive.NewFileStore(dir)
	if err != nil {
		fmt.Fprintf(stderr, "archive: %v\n", err)
		return
	}
	hash, err := archive.NewRegistry(store).Archive(ctx, kind, payload)
	if err != nil {
		fmt.Fprintf(stderr, "archive: %v\n", err)
		return
	}
	fmt.Fprintf(stderr, "archived %s as %s\n", kind, hash)
}

func loadContract(path string) (*bundle.Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	loaded, err := bundle.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", path, err)
	}
	return loaded.Contract, nil
}

func loadFacts(contract *bundle.Contract, path string) (bundle.FactSet, error) {
	if path == "" {
		return bundle.DecodeFactSet(contract, []byte(`{}`))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts %s: %w", path, err)
	}
	return bundle.DecodeFactSet(contract, raw)
}

// loadDirectFacts is the lenient variant for the flow subcommand: absent
// declared facts are left for the fact provider to resolve through their
// sources or defaults at each snapshot capture.
func loadDirectFacts(contract *bundle.Contract, path string) (bundle.FactSet, error) {
	if path == "" {
		return bundle.FactSet{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts %s: %w", path, err)
	}
	return bundle.DecodeDirectFacts(contract, raw)
}

// factSource builds the flow executor's per-capture fact resolution on
// top of fact.Provider: direct values win, sourced facts go through the
// protocol adapters, and each capture uses a fresh snapshot id so no
// adapter value is cached across a per_step flow's recaptures (section 9).
func factSource(contract *bundle.Contract, direct bundle.FactSet, cfg config.Config) flow.FactSource {
	adapters := fact.NewAdapterRegistry()
	client := &http.Client{Timeout: time.Duration(cfg.AdapterTimeoutMS) * time.Millisecond}
	adapters.Register(fact.NewHTTPAdapter(client, rate.Limit(10), 5))
	static := fact.NewStaticAdapter()
	for _, s := range contract.Sources() {
		if s.Protocol != "static" {
			continue
		}
		table := make(map[string]any, len(s.Params))
		for path, value := range s.Params {
			table[path] = value
		}
		static.Seed(s.ID, table)
	}
	adapters.Register(static)
	adapters.Register(fact.ManualAdapter{})
	provider := &fact.Provider{Contract: contract, Adapters: adapters}

	return func(ctx context.Context) (bundle.FactSet, error) {
		resolved, _, err := provider.Resolve(ctx, direct, uuid.NewString())
		return resolved, err
	}
}

// instanceRecord is the on-disk shape of one entity instance's current
// state, shared by the flow and actions subcommands' --states flag.
type instanceRecord struct {
	EntityID   string `json:"entity_id"`
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
}

func loadInstances(path string) ([]instanceRecord, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read states %s: %w", path, err)
	}
	var recs []instanceRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse states %s: %w", path, err)
	}
	return recs, nil
}

func runEvaluate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "", "path to bundle JSON")
	factsPath := fs.String("facts", "", "path to facts JSON object")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	contract, err := loadContract(*bundlePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	facts, err := loadFacts(contract, *factsPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	verdicts, err := rules.Evaluate(contract, facts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	out, err := bundle.EncodeVerdictSet(verdicts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runFlow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("flow", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "", "path to bundle JSON")
	factsPath := fs.String("facts", "", "path to facts JSON object")
	flowID := fs.String("flow", "", "flow id to drive")
	persona := fs.String("persona", "", "initiating persona id")
	statesPath := fs.String("states", "", "path to initial entity-instance states JSON")
	archiveDir := fs.String("archive-dir", "", "directory to write-through archive the committed flow-execution record to")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	prov := newTelemetry(ctx)
	defer prov.Shutdown(ctx)

	contract, err := loadContract(*bundlePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	direct, err := loadDirectFacts(contract, *factsPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	recs, err := loadInstances(*statesPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	states := flow.States{}
	for _, r := range recs {
		states[flow.StateKey{EntityID: r.EntityID, InstanceID: r.InstanceID}] = r.State
	}

	ctx, span := prov.StartSpan(ctx, "tenorctl.flow", contract.ID, *flowID, "")
	defer span.End()

	ex := flow.New(contract)
	ex.Facts = factSource(contract, direct, config.Load())
	result, err := ex.Run(ctx, *flowID, states, *persona, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	wire := renderFlowResult(result)
	archiveRecord(ctx, *archiveDir, "flow_execution", wire, stderr)

	out, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

// flowResultWire renders flow.Result for JSON output: Go's encoding/json
// cannot marshal a map keyed by the struct type flow.StateKey, so
// FinalStates is flattened to the same entity_id/instance_id/state shape
// the --states input files use.
type flowResultWire struct {
	Outcome            string                   `json:"outcome"`
	StepsExecuted      []flow.StepRecord        `json:"steps_executed"`
	EntityStateChanges []flow.EntityStateChange `json:"entity_state_changes"`
	FinalStates        []instanceRecord         `json:"final_states"`
	FinalPersona       string                   `json:"final_persona"`
}

func renderFlowResult(r flow.Result) flowResultWire {
	final := make([]instanceRecord, 0, len(r.FinalStates))
	for k, v := range r.FinalStates {
		final = append(final, instanceRecord{EntityID: k.EntityID, InstanceID: k.InstanceID, State: v})
	}
	return flowResultWire{
		Outcome:            r.Outcome,
		StepsExecuted:      r.StepsExecuted,
		EntityStateChanges: r.EntityStateChanges,
		FinalStates:        final,
		FinalPersona:       r.FinalPersona,
	}
}

func runActions(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("actions", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "", "path to bundle JSON")
	factsPath := fs.String("facts", "", "path to facts JSON object")
	persona := fs.String("persona", "", "persona to compute the action space for")
	statesPath := fs.String("states", "", "path to entity-instance states JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	contract, err := loadContract(*bundlePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	facts, err := loadFacts(contract, *factsPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	recs, err := loadInstances(*statesPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	states := actionspace.InstanceStates{}
	for _, r := range recs {
		states[actionspace.InstanceKey{EntityID: r.EntityID, InstanceID: r.InstanceID}] = r.State
	}

	result, err := actionspace.Compute(contract, facts, states, *persona)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runDiff(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	v1Path := fs.String("v1", "", "path to the earlier bundle JSON")
	v2Path := fs.String("v2", "", "path to the later bundle JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v1, err := loadContract(*v1Path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	v2, err := loadContract(*v2Path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := migration.CheckVersionGate(v1, v2); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	d := migration.DiffBundles(v1, v2)
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

// planFile is the on-disk shape of a migration plan plus the seed states
// to initialize a fresh in-memory backend with before executing it — there
// is no persistent store to point tenorctl at outside of a running
// service, so this subcommand demonstrates the atomic-remap contract
// end-to-end against pkg/storage/memory.
type planFile struct {
	V1ID     string           `json:"v1_id"`
	V2ID     string           `json:"v2_id"`
	Seed     []instanceRecord `json:"seed"`
	Mappings []mappingRecord  `json:"mappings"`
}

// mappingRecord is migration.EntityStateMapping's on-disk shape: that
// type carries no JSON tags (it is built programmatically elsewhere, not
// decoded), so tenorctl converts through this snake_case wire form
// instead of relying on Go's case-insensitive default field matching.
type mappingRecord struct {
	EntityID   string `json:"entity_id"`
	InstanceID string `json:"instance_id"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	planPath := fs.String("plan", "", "path to a migration plan JSON (v1_id, v2_id, seed, mappings)")
	archiveDir := fs.String("archive-dir", "", "directory to write-through archive the committed migration record to")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := os.ReadFile(*planPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	var pf planFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	backend := memory.New()

	sn, err := backend.BeginSnapshot(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, r := range pf.Seed {
		if err := backend.InitializeEntity(ctx, sn, r.EntityID, r.InstanceID, r.State); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if err := backend.CommitSnapshot(ctx, sn); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	mappings := make([]migration.EntityStateMapping, 0, len(pf.Mappings))
	for _, m := range pf.Mappings {
		mappings = append(mappings, migration.EntityStateMapping{
			EntityID:   m.EntityID,
			InstanceID: m.InstanceID,
			FromState:  m.FromState,
			ToState:    m.ToState,
		})
	}
	plan := migration.Plan{V1ID: pf.V1ID, V2ID: pf.V2ID, Mappings: mappings}
	if err := migration.Execute(ctx, backend, plan); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	finalStates := make([]storage.EntityState, 0, len(pf.Mappings))
	for _, m := range pf.Mappings {
		st, err := backend.GetEntityState(ctx, m.EntityID, m.InstanceID)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		finalStates = append(finalStates, st)
	}

	archiveRecord(ctx, *archiveDir, "migration", struct {
		Plan        migration.Plan        `json:"plan"`
		FinalStates []storage.EntityState `json:"final_states"`
	}{Plan: plan, FinalStates: finalStates}, stderr)

	out, err := json.MarshalIndent(finalStates, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}
