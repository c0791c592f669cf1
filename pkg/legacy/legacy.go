// Package legacy imports documents exported from the CouchDB deployment:
// an _all_docs?include_docs=true dump or a _bulk_docs body.
package legacy

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/mitchellh/mapstructure"
)

// document is the union of legacy test and run documents.
type document struct {
	ID      string `mapstructure:"_id"`
	Rev     string `mapstructure:"_rev"`
	Deleted bool   `mapstructure:"_deleted"`
	Type    string `mapstructure:"type"`

	Source      string `mapstructure:"source"`
	URL         string `mapstructure:"url"`
	Description string `mapstructure:"description"`

	TestID             string     `mapstructure:"test_id"`
	UA                 *string    `mapstructure:"ua"`
	ClientIdentifier   *string    `mapstructure:"client_identifier"`
	StartTime          *time.Time `mapstructure:"start_time"`
	StopTime           *time.Time `mapstructure:"stop_time"`
	Data               any        `mapstructure:"data"`
	MeasurementPayload any        `mapstructure:"measurement_payload"`
}

// Dump is the decoded content of a legacy export.
type Dump struct {
	Tests []model.Test
	Runs  []model.Run
	// Skipped counts design documents, deleted documents and documents
	// that are neither tests nor runs.
	Skipped int
}

type envelope struct {
	Rows []struct {
		Doc map[string]any `json:"doc"`
	} `json:"rows"`
	Docs []map[string]any `json:"docs"`
}

// Parse reads a dump. Tests are documents with type "test"; runs are
// documents carrying a test_id.
func Parse(r io.Reader) (*Dump, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}

	var raw []map[string]any

	if err := json.Unmarshal(data, &raw); err != nil {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding dump: %w", err)
		}

		raw = env.Docs

		for _, row := range env.Rows {
			if row.Doc != nil {
				raw = append(raw, row.Doc)
			}
		}
	}

	dump := &Dump{}

	for i, m := range raw {
		doc, err := decodeDocument(m)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		switch {
		case doc.Deleted || strings.HasPrefix(doc.ID, "_design/"):
			dump.Skipped++
		case doc.Type == "test":
			dump.Tests = append(dump.Tests, doc.test())
		case hasKey(m, "test_id"):
			run, err := doc.run()
			if err != nil {
				return nil, fmt.Errorf("run %s: %w", doc.ID, err)
			}

			dump.Runs = append(dump.Runs, run)
		default:
			dump.Skipped++
		}
	}

	return dump, nil
}

func decodeDocument(m map[string]any) (*document, error) {
	var doc document

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			epochMillisHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	return &doc, nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]

	return ok
}

// epochMillisHook turns numeric timestamps (milliseconds since the epoch,
// as produced by Date.now()) into time.Time.
func epochMillisHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	switch v := data.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid timestamp %v", v)
		}

		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return data, nil
	}
}

func (d *document) test() model.Test {
	return model.Test{
		ID:          d.ID,
		Source:      d.Source,
		URL:         d.URL,
		Description: d.Description,
	}
}

func (d *document) run() (model.Run, error) {
	run := model.Run{
		ID:               d.ID,
		TestID:           d.TestID,
		ClientIdentifier: d.ClientIdentifier,
		StartTime:        d.StartTime,
		StopTime:         d.StopTime,
	}

	if run.ClientIdentifier == nil {
		run.ClientIdentifier = d.UA
	}

	payload := d.MeasurementPayload
	if payload == nil {
		payload = d.Data
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return model.Run{}, fmt.Errorf("encoding payload: %w", err)
		}

		run.MeasurementPayload = data
	}

	return run, nil
}
