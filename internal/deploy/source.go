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

package deploy

import (
	"context"
	"os"

	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

// resolveSource selects the execution source by the precedence §4.5 step
// 1 specifies — inline CWL > referenced CWL URL > remote OGC-API URL >
// remote WPS URL — and returns the parsed CWL document when the source
// carries one (remote OGC-API/WPS processes have no local CWL document;
// doc is nil in that case and the Process is stored with only its
// ExecutionUnit pointer to the remote process).
func (p *Pipeline) resolveSource(ctx context.Context, req Request) (*cwl.Document, store.ProcessType, store.ExecutionUnit, error) {
	switch {
	case len(req.InlineCWL) > 0:
		doc, err := cwl.Parse(req.InlineCWL)
		if err != nil {
			return nil, "", store.ExecutionUnit{}, weavererr.Wrap(weavererr.CodeSchemaInvalid, "deploy", err, "invalid inline CWL")
		}
		return doc, processTypeFor(doc), store.ExecutionUnit{InlineCWL: string(req.InlineCWL)}, nil

	case req.CWLURL != "":
		doc, err := p.loadCWLFromURL(ctx, req.CWLURL)
		if err != nil {
			return nil, "", store.ExecutionUnit{}, err
		}
		return doc, processTypeFor(doc), store.ExecutionUnit{CWLURL: req.CWLURL}, nil

	case req.OWSContextHref != "":
		doc, err := p.loadCWLFromURL(ctx, req.OWSContextHref)
		if err != nil {
			return nil, "", store.ExecutionUnit{}, err
		}
		return doc, processTypeFor(doc), store.ExecutionUnit{CWLURL: req.OWSContextHref}, nil

	case req.OGCAPIURL != "":
		return nil, store.ProcessTypeOGCAPI, store.ExecutionUnit{OGCAPIURL: req.OGCAPIURL}, nil

	case req.WPSURL != "":
		return nil, store.ProcessTypeWPS1, store.ExecutionUnit{WPSURL: req.WPSURL}, nil

	default:
		return nil, "", store.ExecutionUnit{}, weavererr.New(weavererr.CodeSchemaInvalid, "deploy", "no execution source provided: need an executionUnit, an owsContext href, or a remote process URL")
	}
}

// loadCWLFromURL fetches a CWL document by reference and parses it with
// Parse's own JSON-then-YAML detection, whatever content type the server
// returns (§4.5 step 1); the file extension is not consulted.
func (p *Pipeline) loadCWLFromURL(ctx context.Context, ref string) (*cwl.Document, error) {
	if p.fetcher == nil {
		return nil, weavererr.New(weavererr.CodeUnprocessable, "deploy", "no fetcher configured to resolve a CWL URL")
	}
	result, err := p.fetcher.Fetch(ctx, ref, fetch.Options{})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(result.LocalPath)
	if err != nil {
		return nil, weavererr.Wrap(weavererr.CodeRefUnreachable, "deploy", err, "failed to read fetched CWL document")
	}
	doc, err := cwl.Parse(data)
	if err != nil {
		return nil, weavererr.Wrap(weavererr.CodeSchemaInvalid, "deploy", err, "invalid CWL document at "+ref)
	}
	return doc, nil
}

func processTypeFor(doc *cwl.Document) store.ProcessType {
	if doc != nil && doc.Class == cwl.ClassWorkflow {
		return store.ProcessTypeWorkflow
	}
	return store.ProcessTypeApplication
}
