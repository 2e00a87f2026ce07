package server

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"

	apperrors "github.com/copyleftdev/jobshop-de/internal/errors"
	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
	"github.com/copyleftdev/jobshop-de/internal/optimization/de"
)

// StartParams are the parameters of schedule.start and POST /api/v1/schedule.
// The instance is given either as text in the standard format or as job
// rows; every solver field is optional and falls back to the configured
// defaults.
type StartParams struct {
	Name     string  `json:"name"`
	Instance string  `json:"instance"`
	Jobs     int     `json:"jobs"`
	Machines int     `json:"machines"`
	Rows     [][]int `json:"rows"`

	Population  *int     `json:"population"`
	Strategy    string   `json:"strategy"`
	F           *float64 `json:"f"`
	CR          *float64 `json:"cr"`
	Generations *int     `json:"generations"`
	Seed        *int64   `json:"seed"`
	Precedence  string   `json:"precedence"`
}

// IDParams identify an existing schedule job.
type IDParams struct {
	ScheduleID string `json:"schedule_id"`
}

// decodeParams decodes a generic JSON value (as produced by encoding/json
// into interface{}) into out. Unknown keys are rejected.
func decodeParams(raw interface{}, out interface{}) error {
	if err := decode(raw, out); err != nil {
		return apperrors.Wrap(ErrInvalidParams, err.Error())
	}
	return nil
}

// decodeStartParams decodes the parameters of a start request. Rows that
// do not decode are a malformed instance, not a bad request shape.
func decodeStartParams(raw interface{}) (StartParams, error) {
	var p StartParams
	if fields, ok := raw.(map[string]interface{}); ok {
		if rows, ok := fields["rows"]; ok {
			if err := decode(rows, &p.Rows); err != nil {
				return StartParams{}, apperrors.Wrapf(optimization.ErrMalformedInstance, "rows: %v", err)
			}
			raw = lo.OmitByKeys(fields, []string{"rows"})
		}
	}
	if err := decodeParams(raw, &p); err != nil {
		return StartParams{}, err
	}
	return p, nil
}

func decode(raw interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		DecodeHook:  mapstructure.DecodeHookFuncKind(integralHook),
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// integralHook stops JSON numbers from being truncated into integer fields.
func integralHook(from, to reflect.Kind, data interface{}) (interface{}, error) {
	if from != reflect.Float64 {
		return data, nil
	}
	switch to {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

// instance builds the JSSP instance described by p.
func (p StartParams) instance() (*jssp.Instance, error) {
	var (
		inst *jssp.Instance
		err  error
	)
	switch {
	case strings.TrimSpace(p.Instance) != "":
		inst, err = jssp.ParseString(p.Instance)
	case len(p.Rows) > 0:
		jobs := lo.Ternary(p.Jobs > 0, p.Jobs, len(p.Rows))
		machines := lo.Ternary(p.Machines > 0, p.Machines, len(p.Rows[0])/2)
		inst, err = jssp.NewInstance(jobs, machines, p.Rows)
	default:
		return nil, apperrors.Wrap(ErrInvalidParams, "instance text or rows are required")
	}
	if err != nil {
		return nil, err
	}
	inst.Name = p.Name
	return inst, nil
}

// solverConfig overlays the request's solver fields on base.
func (p StartParams) solverConfig(base de.Config) de.Config {
	cfg := base
	cfg.PopulationSize = lo.FromPtrOr(p.Population, base.PopulationSize)
	cfg.Strategy = lo.Ternary(p.Strategy != "", p.Strategy, base.Strategy)
	cfg.F = lo.FromPtrOr(p.F, base.F)
	cfg.CR = lo.FromPtrOr(p.CR, base.CR)
	cfg.Generations = lo.FromPtrOr(p.Generations, base.Generations)
	cfg.Seed = lo.FromPtrOr(p.Seed, base.Seed)
	if p.Precedence != "" {
		cfg.Precedence = de.Precedence(p.Precedence)
	}
	return cfg
}
