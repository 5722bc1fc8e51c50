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

// Package provenance builds a W3C PROV document for a completed job run
// (SPEC_FULL.md §4.11) and serializes it in any of six textual
// encodings from a single in-memory graph: PROV-N, PROV-NT, PROV-JSON,
// PROV-JSONLD, PROV-XML and PROV-TURTLE.
package provenance

import "time"

// Entity is a PROV entity: a Process, a job input, a job output, or the
// effective CWL document used for a run.
type Entity struct {
	ID         string
	Type       string // prov:Plan, prov:Collection, or empty for a generic entity
	Attributes map[string]string
}

// Activity is a PROV activity: the Job itself, or one of its steps.
type Activity struct {
	ID         string
	Type       string
	StartedAt  time.Time
	EndedAt    time.Time
	Attributes map[string]string
}

// Agent is a PROV agent responsible for an activity; weaver records the
// deploying/executing Process as the responsible agent.
type Agent struct {
	ID         string
	Type       string
	Attributes map[string]string
}

// Usage records an activity consuming an entity as input.
type Usage struct {
	ActivityID string
	EntityID   string
	Role       string
}

// Generation records an activity producing an entity as output.
type Generation struct {
	EntityID   string
	ActivityID string
	Role       string
}

// Association records an activity being carried out under an agent's
// responsibility.
type Association struct {
	ActivityID string
	AgentID    string
}

// Derivation records one entity (a step output) being derived from
// another (the job's top-level output it feeds).
type Derivation struct {
	GeneratedEntityID string
	UsedEntityID      string
}

// Document is the full in-memory PROV graph for one job run. All six
// encodings are projections of this single structure.
type Document struct {
	JobID       string
	ProcessID   string
	Entities    []Entity
	Activities  []Activity
	Agents      []Agent
	Usages      []Usage
	Generations []Generation
	Associations []Association
	Derivations []Derivation
}

func (d *Document) addEntity(e Entity) {
	d.Entities = append(d.Entities, e)
}

func (d *Document) addActivity(a Activity) {
	d.Activities = append(d.Activities, a)
}
