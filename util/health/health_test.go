package health

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
)

func TestCheckAll(t *testing.T) {
	ok := Check{Name: "chain", Check: CheckFunc(func(context.Context) error { return nil })}
	bad := Check{Name: "peers", Check: CheckFunc(func(context.Context) error { return errors.NewServiceError("no peers") })}

	status, body, err := CheckAll(context.Background(), false, []Check{ok})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"resource": "chain"`)

	status, body, err = CheckAll(context.Background(), false, []Check{ok, bad})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "no peers")
}

func TestNewReport_NestsReports(t *testing.T) {
	inner := Fold([]*Report{NewReport("coins", http.StatusOK, "OK", nil)})

	r := NewReport("chain", http.StatusOK, inner.String(), nil)
	require.Len(t, r.Dependencies, 1)
	assert.Equal(t, "coins", r.Dependencies[0].Resource)
	assert.Empty(t, r.Message)

	r = NewReport("p2p", http.StatusOK, "", errors.NewServiceError("listener closed"))
	assert.Equal(t, http.StatusServiceUnavailable, r.Status)
	assert.Contains(t, r.Error, "listener closed")
	assert.False(t, r.Healthy())
}
