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
	"encoding/json"
	"strconv"
	"time"
)

// provJSONTime mirrors the W3C PROV-JSON convention for a literal
// xsd:dateTime value.
type provJSONTime struct {
	Value string `json:"$"`
	Type  string `json:"type"`
}

func jsonTime(t time.Time) *provJSONTime {
	if t.IsZero() {
		return nil
	}
	return &provJSONTime{Value: t.UTC().Format(time.RFC3339), Type: "xsd:dateTime"}
}

func provJSONDoc(doc *Document) map[string]any {
	entities := map[string]any{}
	for _, e := range doc.Entities {
		node := map[string]any{}
		for k, v := range e.Attributes {
			node[k] = v
		}
		if e.Type != "" {
			node["prov:type"] = e.Type
		}
		entities[e.ID] = node
	}

	activities := map[string]any{}
	for _, a := range doc.Activities {
		node := map[string]any{}
		for k, v := range a.Attributes {
			node[k] = v
		}
		if t := jsonTime(a.StartedAt); t != nil {
			node["prov:startTime"] = t
		}
		if t := jsonTime(a.EndedAt); t != nil {
			node["prov:endTime"] = t
		}
		activities[a.ID] = node
	}

	agents := map[string]any{}
	for _, ag := range doc.Agents {
		node := map[string]any{}
		for k, v := range ag.Attributes {
			node[k] = v
		}
		if ag.Type != "" {
			node["prov:type"] = ag.Type
		}
		agents[ag.ID] = node
	}

	used := map[string]any{}
	for i, u := range doc.Usages {
		used[relationID("used", i)] = map[string]any{
			"prov:activity": u.ActivityID,
			"prov:entity":   u.EntityID,
			"prov:role":     u.Role,
		}
	}

	generated := map[string]any{}
	for i, g := range doc.Generations {
		generated[relationID("gen", i)] = map[string]any{
			"prov:entity":   g.EntityID,
			"prov:activity": g.ActivityID,
			"prov:role":     g.Role,
		}
	}

	associated := map[string]any{}
	for i, a := range doc.Associations {
		associated[relationID("assoc", i)] = map[string]any{
			"prov:activity": a.ActivityID,
			"prov:agent":    a.AgentID,
		}
	}

	derived := map[string]any{}
	for i, d := range doc.Derivations {
		derived[relationID("der", i)] = map[string]any{
			"prov:generatedEntity": d.GeneratedEntityID,
			"prov:usedEntity":      d.UsedEntityID,
		}
	}

	out := map[string]any{
		"prefix": map[string]string{
			"prov":   provNS,
			"weaver": weaverNS,
		},
		"entity":   entities,
		"activity": activities,
		"agent":    agents,
	}
	if len(used) > 0 {
		out["used"] = used
	}
	if len(generated) > 0 {
		out["wasGeneratedBy"] = generated
	}
	if len(associated) > 0 {
		out["wasAssociatedWith"] = associated
	}
	if len(derived) > 0 {
		out["wasDerivedFrom"] = derived
	}
	return out
}

func relationID(kind string, i int) string {
	return "_:" + kind + strconv.Itoa(i)
}

// ToProvJSON renders doc in the canonical PROV-JSON representation.
func ToProvJSON(doc *Document) ([]byte, error) {
	return json.MarshalIndent(provJSONDoc(doc), "", "  ")
}

// ToProvJSONLD renders doc as PROV-JSON augmented with the standard
// PROV JSON-LD @context, per the W3C PROV-JSON-LD note.
func ToProvJSONLD(doc *Document) ([]byte, error) {
	m := provJSONDoc(doc)
	m["@context"] = "https://www.w3.org/ns/prov.jsonld"
	return json.MarshalIndent(m, "", "  ")
}
