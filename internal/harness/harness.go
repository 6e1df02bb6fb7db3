// Package harness wires a Store to a MemorySource and replays scripted
// interleavings. See doc.go for the scenario format.
package harness

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/store"
	"github.com/roach88/undertow/internal/testutil"
)

// Harness executes one scenario against a fresh store/source pair.
type Harness struct {
	store  *store.Store
	source *testutil.MemorySource
	refs   map[string]string // ref name -> store key
}

// Run executes a scenario and returns its result. Each run builds a fresh
// store and source, so scenarios are fully isolated from each other.
func Run(scenario *Scenario) (*Result, error) {
	schemas, err := schema.LoadDir(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	src := testutil.NewMemorySource(schemas)
	st := store.New(src, schemas, nil, &store.SerialKeys{})
	src.Attach(st)
	src.Deferred = scenario.Deferred

	for _, block := range scenario.Seed {
		records := make([]jval.Object, 0, len(block.Records))
		for _, raw := range block.Records {
			rec, err := jval.ObjectFromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", block.Type, err)
			}
			records = append(records, rec)
		}
		src.Seed(block.Type, records...)
	}

	h := &Harness{store: st, source: src, refs: make(map[string]string)}
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(step); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
		event := TraceEvent{Seq: int64(i + 1), Op: step.Op, Ref: step.Ref}
		if step.Ref != "" {
			event.Status = st.GetStatus(h.refs[step.Ref]).String()
		}
		result.Trace = append(result.Trace, event)
	}

	result.SourceLog = append(result.SourceLog, src.Log...)

	refNames := make([]string, 0, len(h.refs))
	for name := range h.refs {
		refNames = append(refNames, name)
	}
	sort.Strings(refNames)
	for _, name := range refNames {
		k := h.refs[name]
		result.Final[name] = FinalRecord{
			Status: st.GetStatus(k).String(),
			Data:   st.GetData(k).Clone(),
		}
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) executeStep(step Step) error {
	switch step.Op {
	case OpGet:
		typ, ok := h.store.Schemas().Get(step.Type)
		if !ok {
			return fmt.Errorf("unknown type %q", step.Type)
		}
		k := h.store.GetStoreKey(typ, step.ID)
		h.refs[step.Ref] = k
		h.store.FetchData(k)

	case OpNew:
		data, err := jval.ObjectFromAny(step.Data)
		if err != nil {
			return err
		}
		rec, ok := h.store.NewRecord(step.Type, data)
		if !ok {
			return fmt.Errorf("newRecord %s failed", step.Type)
		}
		h.refs[step.Ref] = rec.StoreKey()

	case OpSet:
		data, err := jval.ObjectFromAny(step.Data)
		if err != nil {
			return err
		}
		h.store.UpdateData(h.refs[step.Ref], data, true)

	case OpDestroy:
		h.store.DestroyRecord(h.refs[step.Ref])

	case OpCommit:
		h.store.CommitChanges(nil)

	case OpFlush:
		h.store.Scheduler().Flush()

	case OpDeliver:
		if step.Count <= 0 {
			h.source.DeliverAll()
			break
		}
		for i := 0; i < step.Count; i++ {
			if !h.source.Deliver() {
				return fmt.Errorf("deliver %d: only %d callbacks were pending", step.Count, i)
			}
		}

	case OpMode:
		mode, err := parseMode(step.Mode)
		if err != nil {
			return err
		}
		h.source.Mode = mode

	case OpOffline:
		h.source.Offline = step.Value
	}
	return nil
}

func parseMode(name string) (testutil.CommitMode, error) {
	switch name {
	case "accept", "":
		return testutil.CommitAccept, nil
	case "decline":
		return testutil.CommitDecline, nil
	case "reject_transient":
		return testutil.CommitRejectTransient, nil
	case "reject_permanent":
		return testutil.CommitRejectPermanent, nil
	}
	return 0, fmt.Errorf("unknown commit mode %q", name)
}

// RunDir loads and runs every scenario file in a directory, keyed by file
// name. Load or execution errors surface per file.
func RunDir(dir string) (map[string]*Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	sort.Strings(paths)

	results := make(map[string]*Result, len(paths))
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		result, err := Run(scenario)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", scenario.Name, err)
		}
		results[scenario.Name] = result
	}
	return results, nil
}
