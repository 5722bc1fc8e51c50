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
	"strings"
	"time"
)

// triple is one RDF statement, shared by the PROV-NT and PROV-TURTLE
// encoders so both stay byte-for-byte consistent with the same graph.
type triple struct {
	subject, predicate, object string
}

const (
	provNS   = "http://www.w3.org/ns/prov#"
	weaverNS = "https://weaver.example/ns#"
)

func uri(ns, local string) string { return "<" + ns + local + ">" }

func resource(id string) string { return "<urn:weaver:" + id + ">" }

func toTriples(doc *Document) []triple {
	var t []triple

	for _, e := range doc.Entities {
		t = append(t, triple{resource(e.ID), uri("http://www.w3.org/1999/02/22-rdf-syntax-ns#", "type"), uri(provNS, "Entity")})
		t = append(t, attrTriples(e.ID, e.Attributes)...)
	}
	for _, a := range doc.Activities {
		t = append(t, triple{resource(a.ID), uri("http://www.w3.org/1999/02/22-rdf-syntax-ns#", "type"), uri(provNS, "Activity")})
		if !a.StartedAt.IsZero() {
			t = append(t, triple{resource(a.ID), uri(provNS, "startedAtTime"), literal(a.StartedAt.UTC().Format(time.RFC3339))})
		}
		if !a.EndedAt.IsZero() {
			t = append(t, triple{resource(a.ID), uri(provNS, "endedAtTime"), literal(a.EndedAt.UTC().Format(time.RFC3339))})
		}
		t = append(t, attrTriples(a.ID, a.Attributes)...)
	}
	for _, ag := range doc.Agents {
		t = append(t, triple{resource(ag.ID), uri("http://www.w3.org/1999/02/22-rdf-syntax-ns#", "type"), uri(provNS, "Agent")})
		t = append(t, attrTriples(ag.ID, ag.Attributes)...)
	}
	for _, u := range doc.Usages {
		t = append(t, triple{resource(u.ActivityID), uri(provNS, "used"), resource(u.EntityID)})
	}
	for _, g := range doc.Generations {
		t = append(t, triple{resource(g.EntityID), uri(provNS, "wasGeneratedBy"), resource(g.ActivityID)})
	}
	for _, a := range doc.Associations {
		t = append(t, triple{resource(a.ActivityID), uri(provNS, "wasAssociatedWith"), resource(a.AgentID)})
	}
	for _, d := range doc.Derivations {
		t = append(t, triple{resource(d.GeneratedEntityID), uri(provNS, "wasDerivedFrom"), resource(d.UsedEntityID)})
	}
	return t
}

func attrTriples(id string, attrs map[string]string) []triple {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]triple, 0, len(keys))
	for _, k := range keys {
		local := strings.TrimPrefix(strings.TrimPrefix(k, "prov:"), "weaver:")
		out = append(out, triple{resource(id), uri(weaverNS, local), literal(attrs[k])})
	}
	return out
}

func literal(v string) string {
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	return `"` + escaped + `"`
}

// ToProvNT renders doc as N-Triples.
func ToProvNT(doc *Document) string {
	var b strings.Builder
	for _, tr := range toTriples(doc) {
		fmt.Fprintf(&b, "%s %s %s .\n", tr.subject, tr.predicate, tr.object)
	}
	return b.String()
}

// ToProvTurtle renders doc as Turtle: a @prefix header followed by the
// same triple lines as PROV-NT, written with full IRIs (the declared
// prefixes are not used in the body).
func ToProvTurtle(doc *Document) string {
	var b strings.Builder
	b.WriteString("@prefix prov: <" + provNS + "> .\n")
	b.WriteString("@prefix weaver: <" + weaverNS + "> .\n\n")
	for _, tr := range toTriples(doc) {
		fmt.Fprintf(&b, "%s %s %s .\n", tr.subject, tr.predicate, tr.object)
	}
	return b.String()
}
