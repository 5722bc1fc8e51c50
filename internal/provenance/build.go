// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provenance

import (
	"fmt"
	"sort"

	"github.com/tombee/weaver/internal/store"
)

// Collector builds a Document for a job run, or reports that provenance
// collection is disabled (weaver.cwl_prov, §4.11 "PROV collection can
// be disabled by a settings flag").
type Collector struct {
	Enabled bool
}

// NewCollector returns a Collector honoring the given settings flag.
func NewCollector(enabled bool) *Collector {
	return &Collector{Enabled: enabled}
}

// Build constructs a Document from a Process and its completed Job. It
// returns (nil, false) when collection is disabled.
func (c *Collector) Build(proc *store.Process, job *store.Job) (*Document, bool) {
	if !c.Enabled {
		return nil, false
	}
	return Build(proc, job), true
}

// Build constructs a Document from a Process and its Job unconditionally.
// Exported directly for callers that already know collection was
// enabled when the job ran.
func Build(proc *store.Process, job *store.Job) *Document {
	doc := &Document{JobID: job.ID, ProcessID: job.ProcessID}

	agentID := "process:" + proc.ID + ":" + proc.Version
	doc.Agents = append(doc.Agents, Agent{
		ID:   agentID,
		Type: "prov:SoftwareAgent",
		Attributes: map[string]string{
			"prov:label": proc.Title,
			"weaver:version": proc.Version,
		},
	})

	planID := "plan:" + proc.ID + ":" + proc.Version
	planEntity := Entity{
		ID:   planID,
		Type: "prov:Plan",
		Attributes: map[string]string{
			"prov:label": proc.Title,
		},
	}
	if cwl := proc.ExecutionUnit.InlineCWL; cwl != "" {
		planEntity.Attributes["weaver:effectiveCWL"] = cwl
	}
	doc.addEntity(planEntity)

	jobActivityID := "job:" + job.ID
	doc.addActivity(Activity{
		ID:        jobActivityID,
		Type:      "prov:Activity",
		StartedAt: job.StartedAt,
		EndedAt:   job.FinishedAt,
		Attributes: map[string]string{
			"weaver:status": string(job.Status),
		},
	})
	doc.Associations = append(doc.Associations, Association{ActivityID: jobActivityID, AgentID: agentID})
	doc.Usages = append(doc.Usages, Usage{ActivityID: jobActivityID, EntityID: planID, Role: "plan"})

	for _, id := range sortedKeys(job.Inputs) {
		entityID := "input:" + job.ID + ":" + id
		doc.addEntity(Entity{
			ID: entityID,
			Attributes: map[string]string{
				"prov:label": id,
				"weaver:value": fmt.Sprintf("%v", job.Inputs[id]),
			},
		})
		doc.Usages = append(doc.Usages, Usage{ActivityID: jobActivityID, EntityID: entityID, Role: id})
	}

	for _, id := range sortedKeys(job.Results) {
		entityID := "output:" + job.ID + ":" + id
		doc.addEntity(Entity{
			ID: entityID,
			Attributes: map[string]string{
				"prov:label": id,
				"weaver:value": fmt.Sprintf("%v", job.Results[id]),
			},
		})
		doc.Generations = append(doc.Generations, Generation{EntityID: entityID, ActivityID: jobActivityID, Role: id})
	}

	if job.Statistics != nil {
		buildStepActivities(doc, job, jobActivityID, agentID)
	}

	return doc
}

// buildStepActivities adds one sub-activity per step named in the Job's
// recorded step durations. Per-step wall-clock bounds are not persisted
// individually (only the aggregate Statistics.StepDurations is), so each
// step's span is derived by laying the durations out sequentially from
// the Job's StartedAt — an approximation, not a claim of measured
// per-step start/end times.
func buildStepActivities(doc *Document, job *store.Job, jobActivityID, agentID string) {
	steps := make([]string, 0, len(job.Statistics.StepDurations))
	for id := range job.Statistics.StepDurations {
		steps = append(steps, id)
	}
	sort.Strings(steps)

	cursor := job.StartedAt
	for _, stepID := range steps {
		dur := job.Statistics.StepDurations[stepID]
		start := cursor
		end := start.Add(dur)
		cursor = end

		stepActivityID := "step:" + job.ID + ":" + stepID
		doc.addActivity(Activity{
			ID:        stepActivityID,
			Type:      "prov:Activity",
			StartedAt: start,
			EndedAt:   end,
			Attributes: map[string]string{
				"weaver:step": stepID,
			},
		})
		doc.Usages = append(doc.Usages, Usage{ActivityID: jobActivityID, EntityID: stepActivityID, Role: "step"})
		doc.Associations = append(doc.Associations, Association{ActivityID: stepActivityID, AgentID: agentID})
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
