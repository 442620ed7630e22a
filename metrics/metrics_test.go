package metrics

import (
	goerrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordResolutionEnd(t *testing.T) {
	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues("summarize", StatusSuccess))

	RecordResolutionStart()
	RecordResolutionEnd("summarize", StatusSuccess, 250*time.Millisecond)

	after := testutil.ToFloat64(resolutionsTotal.WithLabelValues("summarize", StatusSuccess))
	assert.Equal(t, before+1, after)
	assert.Equal(t, float64(0), testutil.ToFloat64(resolutionsActive))
}

func TestRecordDispatch_StatusFromError(t *testing.T) {
	okBefore := testutil.ToFloat64(dispatchesTotal.WithLabelValues("mock", StatusSuccess))
	errBefore := testutil.ToFloat64(dispatchesTotal.WithLabelValues("mock", StatusError))

	RecordDispatch("mock", nil, 10*time.Millisecond)
	RecordDispatch("mock", goerrors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, okBefore+1,
		testutil.ToFloat64(dispatchesTotal.WithLabelValues("mock", StatusSuccess)))
	assert.Equal(t, errBefore+1,
		testutil.ToFloat64(dispatchesTotal.WithLabelValues("mock", StatusError)))
}

func TestRecordInputChunks(t *testing.T) {
	before := testutil.ToFloat64(inputChunksTotal.WithLabelValues("headline"))

	RecordInputChunks("headline", 7)

	assert.Equal(t, before+7, testutil.ToFloat64(inputChunksTotal.WithLabelValues("headline")))
}

func TestRecordBusEventDropped(t *testing.T) {
	before := testutil.ToFloat64(busEventsDroppedTotal.WithLabelValues("REQUEST_PROGRESS"))

	RecordBusEventDropped("REQUEST_PROGRESS")

	assert.Equal(t, before+1,
		testutil.ToFloat64(busEventsDroppedTotal.WithLabelValues("REQUEST_PROGRESS")))
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter(":0")
	RecordResolutionStart()
	RecordResolutionEnd("summarize", StatusSuccess, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pathways_resolutions_total"), "missing resolutions counter")
	assert.True(t, strings.Contains(body, "pathways_resolutions_active"), "missing active gauge")
}
