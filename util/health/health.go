// Package health folds the probes of a service into one JSON report.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Check struct {
	Name  string
	Check func(context.Context, bool) (int, string, error)
}

// Report is the health of one resource. A resource whose probe returned a
// report of its own carries it in Dependencies.
type Report struct {
	Resource     string    `json:"resource,omitempty"`
	Status       int       `json:"status"`
	Error        string    `json:"error,omitempty"`
	Message      string    `json:"message,omitempty"`
	Dependencies []*Report `json:"dependencies,omitempty"`
}

// Healthy reports whether the status is 200.
func (r *Report) Healthy() bool {
	return r.Status == http.StatusOK
}

// NewReport builds the report of a single probe result. A details string
// holding a JSON report is nested rather than quoted.
func NewReport(resource string, status int, details string, err error) *Report {
	r := &Report{Resource: resource, Status: status}

	if err != nil {
		r.Error = err.Error()

		if r.Status == http.StatusOK {
			r.Status = http.StatusServiceUnavailable
		}
	}

	var nested Report

	if len(details) > 0 && details[0] == '{' && json.UnmarshalFromString(details, &nested) == nil {
		r.Dependencies = nested.Dependencies
		if nested.Resource != "" || nested.Message != "" {
			r.Dependencies = []*Report{&nested}
		}
	} else {
		r.Message = details
	}

	return r
}

// Fold returns a report over deps whose status is 503 when any of them is
// unhealthy.
func Fold(deps []*Report) *Report {
	r := &Report{Status: http.StatusOK, Dependencies: deps}

	for _, d := range deps {
		if !d.Healthy() {
			r.Status = http.StatusServiceUnavailable
		}
	}

	return r
}

// String renders the report as indented JSON.
func (r *Report) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return `{"status":500}`
	}

	return string(b)
}

// CheckAll runs every check and folds the results into one JSON document.
// The overall status is 503 if any check fails.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	deps := make([]*Report, 0, len(checks))

	for _, check := range checks {
		status, details, err := check.Check(ctx, checkLiveness)
		deps = append(deps, NewReport(check.Name, status, details, err))
	}

	r := Fold(deps)

	return r.Status, r.String(), nil
}

// CheckFunc adapts a plain error returning probe.
func CheckFunc(probe func(context.Context) error) func(context.Context, bool) (int, string, error) {
	return func(ctx context.Context, _ bool) (int, string, error) {
		if err := probe(ctx); err != nil {
			return http.StatusServiceUnavailable, "", err
		}

		return http.StatusOK, "OK", nil
	}
}
