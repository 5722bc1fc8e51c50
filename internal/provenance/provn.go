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

// ToProvN renders doc in the PROV-N textual notation.
func ToProvN(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "document\n")

	for _, e := range doc.Entities {
		fmt.Fprintf(&b, "  entity(%s, [%s])\n", e.ID, provnAttrs(e.Attributes))
	}
	for _, a := range doc.Activities {
		fmt.Fprintf(&b, "  activity(%s, %s, %s, [%s])\n", a.ID, provnTime(a.StartedAt), provnTime(a.EndedAt), provnAttrs(a.Attributes))
	}
	for _, ag := range doc.Agents {
		fmt.Fprintf(&b, "  agent(%s, [%s])\n", ag.ID, provnAttrs(ag.Attributes))
	}
	for _, u := range doc.Usages {
		fmt.Fprintf(&b, "  used(%s, %s, -, [prov:role=\"%s\"])\n", u.ActivityID, u.EntityID, u.Role)
	}
	for _, g := range doc.Generations {
		fmt.Fprintf(&b, "  wasGeneratedBy(%s, %s, -, [prov:role=\"%s\"])\n", g.EntityID, g.ActivityID, g.Role)
	}
	for _, assoc := range doc.Associations {
		fmt.Fprintf(&b, "  wasAssociatedWith(%s, %s, -)\n", assoc.ActivityID, assoc.AgentID)
	}
	for _, d := range doc.Derivations {
		fmt.Fprintf(&b, "  wasDerivedFrom(%s, %s)\n", d.GeneratedEntityID, d.UsedEntityID)
	}

	b.WriteString("endDocument\n")
	return b.String()
}

func provnAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}

func provnTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
