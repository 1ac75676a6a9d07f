package pipeline

import (
	"context"
	"fmt"

	"github.com/nucleus/ucl-loader/internal/config"
	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

// InputTablePlan is how one input table is read in this run.
type InputTablePlan struct {
	Source string
	// ChangedSince is the lower bound of the read; "" reads everything.
	ChangedSince string
	// LastImportDate is the table's import date now; it becomes the next
	// watermark.
	LastImportDate string
}

// InputFilesPlan is how one tag-selected file source is read.
type InputFilesPlan struct {
	Tags         []syncstate.Tag
	SinceID      string
	LastImportID string
}

// InputPlan is the resolved read side of a run.
type InputPlan struct {
	Tables []InputTablePlan
	Files  []InputFilesPlan
}

// ResolveInputs computes read bounds from the previous state and the
// current import dates reported by storage. Only "adaptive" inputs use the
// previous watermark; others carry an explicit bound through unchanged.
func ResolveInputs(ctx context.Context, lookup loader.TableInfoLookup, prev *syncstate.State, inputs config.Inputs) (*InputPlan, error) {
	plan := &InputPlan{}
	for _, in := range inputs.Tables {
		id, err := loader.ParseTableID(in.Source)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Source, err)
		}

		since := in.ChangedSince
		if since == config.ChangedSinceAdaptive {
			since, err = syncstate.ChangedSince(prev, in.Source)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", in.Source, err)
			}
		}

		info, err := lookup.GetTable(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Source, err)
		}
		plan.Tables = append(plan.Tables, InputTablePlan{
			Source:         in.Source,
			ChangedSince:   since,
			LastImportDate: info.LastImportDate,
		})
	}

	for _, in := range inputs.Files {
		tags, err := syncstate.NormalizeTags(in.Tags)
		if err != nil {
			return nil, err
		}
		since, err := syncstate.FilesSinceID(prev, tags)
		if err != nil {
			return nil, err
		}
		plan.Files = append(plan.Files, InputFilesPlan{Tags: tags, SinceID: since, LastImportID: in.LastImportID})
	}
	return plan, nil
}

// NextState builds the state to persist after a successful run: the
// previous state with every input of plan replaced by its new watermark.
// File sources that consumed nothing keep their previous watermark.
func NextState(prev *syncstate.State, plan *InputPlan) (*syncstate.State, error) {
	b := syncstate.NewBuilderFrom(prev)
	if plan != nil {
		for _, t := range plan.Tables {
			if t.LastImportDate == "" {
				continue
			}
			b.RecordTable(t.Source, t.LastImportDate)
		}
		for _, f := range plan.Files {
			if f.LastImportID == "" {
				continue
			}
			b.RecordFiles(f.Tags, f.LastImportID)
		}
	}
	return b.Build()
}
