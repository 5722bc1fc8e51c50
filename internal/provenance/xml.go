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
	"encoding/xml"
	"sort"
	"strings"
	"time"
)

type xmlAttr struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlEntity struct {
	ID    string    `xml:"prov:id,attr"`
	Attrs []xmlAttr `xml:"attribute"`
}

type xmlActivity struct {
	ID        string    `xml:"prov:id,attr"`
	StartTime string    `xml:"prov:startTime,omitempty"`
	EndTime   string    `xml:"prov:endTime,omitempty"`
	Attrs     []xmlAttr `xml:"attribute"`
}

type xmlAgent struct {
	ID    string    `xml:"prov:id,attr"`
	Attrs []xmlAttr `xml:"attribute"`
}

type xmlUsed struct {
	Activity string `xml:"prov:activity,attr"`
	Entity   string `xml:"prov:entity,attr"`
	Role     string `xml:"prov:role,attr,omitempty"`
}

type xmlGeneration struct {
	Entity   string `xml:"prov:entity,attr"`
	Activity string `xml:"prov:activity,attr"`
	Role     string `xml:"prov:role,attr,omitempty"`
}

type xmlAssociation struct {
	Activity string `xml:"prov:activity,attr"`
	Agent    string `xml:"prov:agent,attr"`
}

type xmlDerivation struct {
	GeneratedEntity string `xml:"prov:generatedEntity,attr"`
	UsedEntity      string `xml:"prov:usedEntity,attr"`
}

type xmlDocument struct {
	XMLName           xml.Name         `xml:"prov:document"`
	XMLNSProv         string           `xml:"xmlns:prov,attr"`
	XMLNSWeaver       string           `xml:"xmlns:weaver,attr"`
	Entities          []xmlEntity      `xml:"entity"`
	Activities        []xmlActivity    `xml:"activity"`
	Agents            []xmlAgent       `xml:"agent"`
	Used              []xmlUsed        `xml:"used"`
	WasGeneratedBy    []xmlGeneration  `xml:"wasGeneratedBy"`
	WasAssociatedWith []xmlAssociation `xml:"wasAssociatedWith"`
	WasDerivedFrom    []xmlDerivation  `xml:"wasDerivedFrom"`
}

func xmlAttrs(attrs map[string]string) []xmlAttr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]xmlAttr, 0, len(keys))
	for _, k := range keys {
		out = append(out, xmlAttr{Key: k, Value: attrs[k]})
	}
	return out
}

func xmlTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ToProvXML renders doc as a PROV-XML document.
func ToProvXML(doc *Document) string {
	xd := xmlDocument{
		XMLNSProv:   provNS,
		XMLNSWeaver: weaverNS,
	}
	for _, e := range doc.Entities {
		xd.Entities = append(xd.Entities, xmlEntity{ID: e.ID, Attrs: xmlAttrs(e.Attributes)})
	}
	for _, a := range doc.Activities {
		xd.Activities = append(xd.Activities, xmlActivity{
			ID:        a.ID,
			StartTime: xmlTime(a.StartedAt),
			EndTime:   xmlTime(a.EndedAt),
			Attrs:     xmlAttrs(a.Attributes),
		})
	}
	for _, ag := range doc.Agents {
		xd.Agents = append(xd.Agents, xmlAgent{ID: ag.ID, Attrs: xmlAttrs(ag.Attributes)})
	}
	for _, u := range doc.Usages {
		xd.Used = append(xd.Used, xmlUsed{Activity: u.ActivityID, Entity: u.EntityID, Role: u.Role})
	}
	for _, g := range doc.Generations {
		xd.WasGeneratedBy = append(xd.WasGeneratedBy, xmlGeneration{Entity: g.EntityID, Activity: g.ActivityID, Role: g.Role})
	}
	for _, a := range doc.Associations {
		xd.WasAssociatedWith = append(xd.WasAssociatedWith, xmlAssociation{Activity: a.ActivityID, Agent: a.AgentID})
	}
	for _, d := range doc.Derivations {
		xd.WasDerivedFrom = append(xd.WasDerivedFrom, xmlDerivation{GeneratedEntity: d.GeneratedEntityID, UsedEntity: d.UsedEntityID})
	}

	out, err := xml.MarshalIndent(xd, "", "  ")
	if err != nil {
		return "<prov:document/>"
	}
	return strings.TrimSpace(xml.Header + string(out))
}
