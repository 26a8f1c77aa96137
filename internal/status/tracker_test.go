package status

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Declare("handle",
		Decl{Name: "H_NODATA", Severity: Info, Message: "no rows in %s"},
		Decl{Name: "H_SKIPPED", Severity: Warning, Message: "skipped"},
		Decl{Name: "H_QUERYERR", Severity: Error, Message: "query failed: %s"},
	))

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	tr := NewTracker(reg, log)

	assert.Equal(t, StatusOK, tr.Name())
	assert.Equal(t, OK, tr.Severity())

	require.NoError(t, tr.Set("H_NODATA", "users"))
	assert.Equal(t, Info, tr.Severity())
	assert.Equal(t, "no rows in users", tr.Message())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "H_NODATA", hook.LastEntry().Data["status"])

	require.NoError(t, tr.Set("H_SKIPPED"))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	cause := errors.New("syntax error near FROM")
	err := tr.Fail("H_QUERYERR", cause, "SELECT")
	require.Error(t, err)
	assert.True(t, Is(err, "H_QUERYERR"))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "H_QUERYERR", NameOf(err))
	assert.Equal(t, cause, tr.Err())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, Error, f.Severity())
	assert.Contains(t, f.Error(), "query failed: SELECT")

	tr.Reset()
	assert.Equal(t, StatusOK, tr.Name())
	assert.NoError(t, tr.Err())
}

func TestTrackerUnknownStatus(t *testing.T) {
	reg := newTestRegistry(t)
	tr := NewTracker(reg, nil)

	err := tr.Set("NOT_REGISTERED")
	require.Error(t, err)
	assert.True(t, Is(err, StatusUnknown))
	assert.Equal(t, Bug, tr.Severity())
	assert.Equal(t, "unknown status NOT_REGISTERED", tr.Message())
}
