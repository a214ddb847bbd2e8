package pipeline

import (
	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/emit"
	"github.com/dshills/planforge/flow/store"
)

// Build wires the design pipeline graph:
//
//	analyze -> clarify -> blueprint -> schema -> contract -> validate
//	validate --(pass)--> tasks -> scaffold -> End
//	validate --(defect)--> blueprint | schema | contract (per report target)
//
// The backward edges from validate are the only conditional routing in the
// graph; every revisit re-runs the targeted stage with the validation issues
// injected into its prompt, then falls forward through the same static edges
// to validate again.
func Build(stages *Stages, st store.Store[Document], emitter emit.Emitter, opts flow.Options) (*flow.Engine[Document], error) {
	eng := flow.New(Reduce, st, emitter, opts)

	nodes := []struct {
		id string
		fn flow.NodeFunc[Document]
	}{
		{NodeAnalyze, stages.Analyze},
		{NodeClarify, stages.Clarify},
		{NodeBlueprint, stages.DesignBlueprint},
		{NodeSchema, stages.DesignSchema},
		{NodeContract, stages.DesignContract},
		{NodeValidate, stages.Validate},
		{NodeTasks, stages.PlanTasks},
		{NodeScaffold, stages.Scaffold},
	}
	for _, n := range nodes {
		if err := eng.Add(n.id, n.fn); err != nil {
			return nil, err
		}
	}

	if err := eng.StartAt(NodeAnalyze); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{NodeAnalyze, NodeClarify},
		{NodeClarify, NodeBlueprint},
		{NodeBlueprint, NodeSchema},
		{NodeSchema, NodeContract},
		{NodeContract, NodeValidate},
		{NodeTasks, NodeScaffold},
		{NodeScaffold, flow.End},
	}
	for _, e := range edges {
		if err := eng.SetNext(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	if err := eng.SetRouter(NodeValidate, Route); err != nil {
		return nil, err
	}

	return eng, nil
}
